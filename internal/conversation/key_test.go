package conversation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestExtractAddress(t *testing.T) {
	tests := []struct {
		name   string
		sender string
		want   string
		none   bool
	}{
		{
			name:   "bare address",
			sender: "alice@example.com",
			want:   "alice@example.com",
		},
		{
			name:   "display name",
			sender: `"Alice A" <Alice@Example.COM>`,
			want:   "alice@example.com",
		},
		{
			name:   "unquoted display name",
			sender: "Alice A. (Ops) <alice@example.com>",
			want:   "alice@example.com",
		},
		{
			name:   "no address",
			sender: "mailer daemon",
			none:   true,
		},
		{
			name:   "empty",
			sender: "",
			none:   true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractAddress(tc.sender)
			if tc.none {
				require.True(t, got.IsNone())
				return
			}
			require.Equal(t, tc.want, got.UnwrapOr(""))
		})
	}
}

func TestNormalizeSubject(t *testing.T) {
	require.Equal(
		t, "quarterly report",
		NormalizeSubject("Re: Quarterly Report"),
	)
	require.Equal(
		t, "quarterly report",
		NormalizeSubject("RE: FWD: Re:  Quarterly Report  "),
	)
	require.Equal(
		t, "quarterly report",
		NormalizeSubject("Fw: quarterly report"),
	)
	require.Equal(t, "", NormalizeSubject("Re:"))
}

// TestDeriveKeySenderWins verifies that a parseable sender address pins the
// conversation regardless of subject churn.
func TestDeriveKeySenderWins(t *testing.T) {
	k1 := DeriveKey("Bob <bob@example.com>", "Hello")
	k2 := DeriveKey("bob@example.com", "Re: Hello")
	k3 := DeriveKey("BOB@EXAMPLE.COM", "something unrelated")

	require.Equal(t, "sender:bob@example.com", k1)
	require.Equal(t, k1, k2)
	require.Equal(t, k1, k3)
}

// TestDeriveKeyHashFallback verifies the subject-based fallback groups
// reply variants of one thread together and keeps distinct threads apart.
func TestDeriveKeyHashFallback(t *testing.T) {
	k1 := DeriveKey("mailer daemon", "Build failed")
	k2 := DeriveKey("mailer daemon", "Re: Build failed")
	k3 := DeriveKey("mailer daemon", "Build passed")

	require.True(t, strings.HasPrefix(k1, "hash:"))
	require.Equal(t, k1, k2)
	require.NotEqual(t, k1, k3)

	// 128-bit digest renders as 32 hex chars.
	require.Len(t, strings.TrimPrefix(k1, "hash:"), 32)
}

// TestDeriveKeyProperties checks structural invariants of the derived key
// across arbitrary inputs.
func TestDeriveKeyProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		sender := rapid.String().Draw(t, "sender")
		subject := rapid.String().Draw(t, "subject")

		key := DeriveKey(sender, subject)

		// Every key carries exactly one of the two scheme prefixes.
		isSender := strings.HasPrefix(key, "sender:")
		isHash := strings.HasPrefix(key, "hash:")
		if isSender == isHash {
			t.Fatalf("key %q has no valid prefix", key)
		}

		// Derivation is deterministic.
		if key != DeriveKey(sender, subject) {
			t.Fatalf("key derivation not deterministic")
		}

		// Reply prefixes never change the key.
		if key != DeriveKey(sender, "Re: "+subject) {
			t.Fatalf("reply prefix changed key for %q", subject)
		}
	})
}
