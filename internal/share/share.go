// Package share signs and verifies time-limited share links.
//
// A link carries the path, an expiry (unix seconds) and a MAC over both,
// keyed with the server secret. Anyone holding the link can read the file
// until it expires; no session is needed.
package share

import (
	"crypto/hmac"
	"encoding/hex"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"

	"oasis/internal/fsutil"
)

var (
	ErrInvalidSignature = errors.New("share link signature mismatch")
	ErrExpired          = errors.New("share link expired")
	ErrNoSecret         = errors.New("share secret is empty")
)

type Signer struct {
	secret []byte
	now    func() time.Time
}

func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) == 0 {
		return nil, ErrNoSecret
	}
	return &Signer{secret: secret, now: time.Now}, nil
}

// WithClock returns a copy of s that reads the time from now.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	c := *s
	c.now = now
	return &c
}

// Token is an issued link.
type Token struct {
	Path   string `json:"path"`
	Expire int64  `json:"expire"`
	Hash   string `json:"hash"`
}

// Query renders the token as the query string of a redemption URL.
func (t Token) Query() string {
	return "hash=" + t.Hash + "&" + message(t.Path, t.Expire)
}

func encodePath(p string) string {
	return strings.ReplaceAll(url.QueryEscape(p), "+", "%20")
}

func message(path string, expire int64) string {
	return "expire=" + strconv.FormatInt(expire, 10) + "&path=" + encodePath(path)
}

// Sign returns the hex MAC for path and expire.
func (s *Signer) Sign(path string, expire int64) string {
	mac := hmac.New(sha3.New256, s.secret)
	mac.Write([]byte(message(fsutil.CleanRelPath(path), expire)))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Signer) Issue(path string, expire int64) Token {
	path = fsutil.CleanRelPath(path)
	return Token{Path: path, Expire: expire, Hash: s.Sign(path, expire)}
}

// Verify checks hash against path and expire, then checks the expiry. A
// signature mismatch is always reported in preference to expiry.
func (s *Signer) Verify(path string, expire int64, hash string) error {
	got, err := hex.DecodeString(hash)
	if err != nil {
		return ErrInvalidSignature
	}
	want, _ := hex.DecodeString(s.Sign(path, expire))
	if !hmac.Equal(got, want) {
		return ErrInvalidSignature
	}
	if s.now().Unix() > expire {
		return ErrExpired
	}
	return nil
}
