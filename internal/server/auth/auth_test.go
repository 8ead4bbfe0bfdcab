package auth

import (
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestSignAndVerify(t *testing.T) {
	t.Run("issued token verifies immediately", func(t *testing.T) {
		token := Issue("secret")
		ts, ok := Verify("secret", token)
		if !ok {
			t.Fatal("expected freshly issued token to verify")
		}
		if drift := time.Now().Unix() - ts; drift < 0 || drift > 5 {
			t.Errorf("embedded timestamp drifted by %ds", drift)
		}
		if !Valid("secret", token, SessionMaxAge) {
			t.Error("expected fresh token to be within max age")
		}
	})

	t.Run("fails under a different secret", func(t *testing.T) {
		token := Issue("secret")
		if _, ok := Verify("other", token); ok {
			t.Error("expected verification to fail under a different secret")
		}
	})

	t.Run("fails when tampered", func(t *testing.T) {
		token := Issue("secret")
		payload, sig, _ := strings.Cut(token, ".")
		forged := "9999999999." + sig
		if _, ok := Verify("secret", forged); ok {
			t.Error("expected forged payload to fail")
		}
		if _, ok := Verify("secret", payload+".AAAA"); ok {
			t.Error("expected forged signature to fail")
		}
	})

	t.Run("malformed tokens", func(t *testing.T) {
		for _, token := range []string{"", "no-separator", ".", "abc.def.ghi"} {
			if Valid("secret", token, SessionMaxAge) {
				t.Errorf("expected %q to be invalid", token)
			}
		}
	})

	t.Run("expires after max age", func(t *testing.T) {
		ts := strconv.FormatInt(time.Now().Add(-8*24*time.Hour).Unix(), 10)
		token := ts + "." + Sign("secret", ts)
		if _, ok := Verify("secret", token); !ok {
			t.Fatal("signature itself should still verify")
		}
		if Valid("secret", token, SessionMaxAge) {
			t.Error("expected token older than max age to be rejected")
		}
	})

	t.Run("future timestamps are rejected", func(t *testing.T) {
		ts := strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10)
		token := ts + "." + Sign("secret", ts)
		if Valid("secret", token, SessionMaxAge) {
			t.Error("expected future-dated token to be rejected")
		}
	})
}

func TestShareSecret(t *testing.T) {
	a := ShareSecret("tokenA", "server-secret")
	b := ShareSecret("tokenB", "server-secret")
	if a == b {
		t.Error("expected distinct share secrets per token")
	}
	token := Issue(a)
	if Valid(b, token, SessionMaxAge) {
		t.Error("session for one share must not verify under another share's secret")
	}
}

func TestPasswordVerifier(t *testing.T) {
	t.Run("accepts correct password", func(t *testing.T) {
		v := NewPasswordVerifier("hunter2")
		if !v.Verify("hunter2") {
			t.Error("expected correct password to verify")
		}
		// Second call exercises the cached derivation path.
		if !v.Verify("hunter2") {
			t.Error("expected cached verification to succeed")
		}
	})

	t.Run("rejects wrong password", func(t *testing.T) {
		v := NewPasswordVerifier("hunter2")
		if v.Verify("hunter3") {
			t.Error("expected wrong password to fail")
		}
		if v.Verify("") {
			t.Error("expected empty candidate to fail")
		}
	})

	t.Run("disabled without a configured password", func(t *testing.T) {
		v := NewPasswordVerifier("")
		if v.Enabled() {
			t.Error("expected auth to be disabled")
		}
		if v.Verify("") {
			t.Error("disabled verifier must never accept")
		}
	})
}

func TestLoginLimiter(t *testing.T) {
	t.Run("allows up to max per window", func(t *testing.T) {
		l := NewLoginLimiter(3, time.Minute)
		for i := 0; i < 3; i++ {
			if !l.Allow("10.0.0.1") {
				t.Fatalf("attempt %d should be allowed", i+1)
			}
		}
		if l.Allow("10.0.0.1") {
			t.Error("attempt over the limit should be denied")
		}
	})

	t.Run("addresses are independent", func(t *testing.T) {
		l := NewLoginLimiter(1, time.Minute)
		if !l.Allow("10.0.0.1") {
			t.Fatal("first address should be allowed")
		}
		if !l.Allow("10.0.0.2") {
			t.Error("second address should have its own window")
		}
	})

	t.Run("window resets", func(t *testing.T) {
		l := NewLoginLimiter(1, 10*time.Millisecond)
		if !l.Allow("10.0.0.1") {
			t.Fatal("first attempt should be allowed")
		}
		if l.Allow("10.0.0.1") {
			t.Fatal("second attempt in window should be denied")
		}
		time.Sleep(20 * time.Millisecond)
		if !l.Allow("10.0.0.1") {
			t.Error("attempt after window expiry should be allowed")
		}
	})

	t.Run("many addresses", func(t *testing.T) {
		l := NewLoginLimiter(2, time.Minute)
		for i := 0; i < 100; i++ {
			addr := fmt.Sprintf("192.168.0.%d", i)
			if !l.Allow(addr) {
				t.Fatalf("fresh address %s should be allowed", addr)
			}
		}
	})
}
