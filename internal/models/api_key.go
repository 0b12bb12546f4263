package models

import (
	"time"
)

// TimestampLayout is how key timestamps are shown to operators.
const TimestampLayout = "2006-01-02 15:04 UTC"

// AccessKey is a credential for the keyed lookup endpoint. Several keys may
// share a Name; Key is unique.
type AccessKey struct {
	ID        uint      `json:"-" bson:"-" gorm:"primaryKey"`
	Key       string    `json:"key" bson:"key" gorm:"uniqueIndex;not null"`
	Name      string    `json:"name" bson:"name" gorm:"index;not null"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	ExpiresAt time.Time `json:"expires_at" bson:"expires_at"`
	Active    bool      `json:"active" bson:"active"`
}

// Usable reports whether the key is active and not yet expired at now.
func (k *AccessKey) Usable(now time.Time) bool {
	return k.Active && now.Before(k.ExpiresAt)
}

// Expired reports whether the key's expiry has been reached at now.
func (k *AccessKey) Expired(now time.Time) bool {
	return !now.Before(k.ExpiresAt)
}

type AccessKeyListing struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
	ExpiresAt string `json:"expires_at"`
	Active    bool   `json:"active"`
}

func (k *AccessKey) Listing() AccessKeyListing {
	return AccessKeyListing{
		Key:       k.Key,
		Name:      k.Name,
		CreatedAt: FormatTimestamp(k.CreatedAt),
		ExpiresAt: FormatTimestamp(k.ExpiresAt),
		Active:    k.Active,
	}
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
