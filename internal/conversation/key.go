// Package conversation derives stable conversation identities from inbound
// email metadata and resolves them to assistant memory threads.
package conversation

import (
	"crypto/sha256"
	"encoding/hex"
	"net/mail"
	"regexp"
	"strings"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// replyPrefixPattern matches leading reply/forward markers on a subject
// line, including repeated ones like "Re: Fwd: Re:".
var replyPrefixPattern = regexp.MustCompile(`(?i)^(\s*(re|fwd?|fw)\s*:\s*)+`)

// ExtractAddress extracts the bare email address from a sender header such
// as `"Alice A" <alice@example.com>`. Returns None if no address can be
// parsed out of the header.
func ExtractAddress(sender string) fn.Option[string] {
	addr, err := mail.ParseAddress(strings.TrimSpace(sender))
	if err == nil {
		return fn.Some(strings.ToLower(addr.Address))
	}

	// Fall back to scanning for an angle-bracketed address, which
	// tolerates display names that the strict parser rejects.
	start := strings.LastIndex(sender, "<")
	end := strings.LastIndex(sender, ">")
	if start >= 0 && end > start {
		candidate := strings.TrimSpace(sender[start+1 : end])
		if strings.Contains(candidate, "@") {
			return fn.Some(strings.ToLower(candidate))
		}
	}

	return fn.None[string]()
}

// NormalizeSubject strips reply/forward prefixes, lowercases, and trims a
// subject line so that all messages of one email thread normalize to the
// same value.
func NormalizeSubject(subject string) string {
	subject = replyPrefixPattern.ReplaceAllString(subject, "")
	return strings.ToLower(strings.TrimSpace(subject))
}

// DeriveKey computes the durable conversation key for an inbound message.
// When the sender header yields a usable address the key is
// "sender:<bare lowercased address>", so every message from that
// correspondent lands in one conversation. Otherwise the key falls back to
// "hash:<hex>" over the raw sender plus the normalized subject, hashed
// with SHA-256 and truncated to 128 bits.
func DeriveKey(sender, subject string) string {
	if addr := ExtractAddress(sender); addr.IsSome() {
		return "sender:" + addr.UnwrapOr("")
	}

	digest := sha256.Sum256(
		[]byte(sender + "|" + NormalizeSubject(subject)),
	)

	return "hash:" + hex.EncodeToString(digest[:16])
}
