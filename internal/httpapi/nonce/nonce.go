// Package nonce issues and verifies short-lived request tokens bound to a
// purpose string. Tokens are stateless: an HMAC over a coarse time bucket,
// so no storage is needed and verification is a pure computation.
package nonce

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// bucketSeconds is the tick granularity. A token stays valid through its
// own bucket plus the next one, so lifetime ranges from 12 to 24 hours.
const bucketSeconds = 12 * 60 * 60

// tokenLen is the number of hex characters kept from the MAC.
const tokenLen = 16

// Issuer mints and checks tokens with a server-side secret.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

func New(secret string) *Issuer {
	return &Issuer{secret: []byte(secret), now: time.Now}
}

// Create returns the token for the current time bucket and purpose.
func (i *Issuer) Create(purpose string) string {
	return i.tokenAt(i.currentBucket(), purpose)
}

// Verify accepts tokens minted in the current or the previous bucket.
func (i *Issuer) Verify(token, purpose string) bool {
	b := i.currentBucket()
	for _, candidate := range []int64{b, b - 1} {
		if hmac.Equal([]byte(token), []byte(i.tokenAt(candidate, purpose))) {
			return true
		}
	}
	return false
}

// TTL reports how long the current bucket's token remains fresh. Clients
// use it to schedule a refresh before expiry.
func (i *Issuer) TTL() time.Duration {
	elapsed := i.now().Unix() % bucketSeconds
	return time.Duration(bucketSeconds-elapsed) * time.Second
}

func (i *Issuer) currentBucket() int64 {
	return i.now().Unix() / bucketSeconds
}

func (i *Issuer) tokenAt(bucket int64, purpose string) string {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(strconv.FormatInt(bucket, 10)))
	mac.Write([]byte("|"))
	mac.Write([]byte(purpose))
	return hex.EncodeToString(mac.Sum(nil))[:tokenLen]
}
