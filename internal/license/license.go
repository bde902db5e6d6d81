package license

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"auditgrid.org/internal/ids"
)

// DefaultTerm is the subscription length used when no end date is given.
const DefaultTerm = 6 // months

var ErrInvalidWindow = errors.New("license: end date precedes start date")

// License is the decrypted subscription proof for one tenant.
type License struct {
	TenantExternalID string
	StartDate        time.Time
	EndDate          time.Time
}

// Active reports whether now falls inside the validity window.
func (l License) Active(now time.Time) bool {
	return !now.Before(l.StartDate) && now.Before(l.EndDate)
}

// Record is the persisted, encrypted form of a License.
type Record struct {
	ID               string
	TenantExternalID string
	CipherPayload    string
	CipherKey        string
	StartDate        time.Time
	EndDate          time.Time
	CreatedAt        time.Time
}

// Envelope returns the sealed pair held by the record.
func (r Record) Envelope() Sealed {
	return Sealed{Payload: r.CipherPayload, Key: r.CipherKey}
}

type payload struct {
	ClientID  string `json:"clientId"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// Issue builds an encrypted license for tenantExternalID. A nil start defaults to
// now and a nil end to start plus DefaultTerm months.
func Issue(c *Codec, tenantExternalID string, start, end *time.Time, now time.Time) (Record, error) {
	tenantExternalID = strings.TrimSpace(tenantExternalID)
	if tenantExternalID == "" {
		return Record{}, errors.New("license: tenant external id is required")
	}
	from := now.UTC()
	if start != nil {
		from = start.UTC()
	}
	to := from.AddDate(0, DefaultTerm, 0)
	if end != nil {
		to = end.UTC()
	}
	from, to = from.Truncate(time.Second), to.Truncate(time.Second)
	if to.Before(from) {
		return Record{}, ErrInvalidWindow
	}

	raw, err := json.Marshal(payload{
		ClientID:  tenantExternalID,
		StartDate: from.Format(time.RFC3339),
		EndDate:   to.Format(time.RFC3339),
	})
	if err != nil {
		return Record{}, fmt.Errorf("license: encode payload: %w", err)
	}
	env, err := c.Encrypt(raw, tenantExternalID)
	if err != nil {
		return Record{}, err
	}
	return Record{
		ID:               ids.New(),
		TenantExternalID: tenantExternalID,
		CipherPayload:    env.Payload,
		CipherKey:        env.Key,
		StartDate:        from,
		EndDate:          to,
		CreatedAt:        now.UTC(),
	}, nil
}

// Open decrypts rec under tenantExternalID and checks the embedded tenant matches.
func Open(c *Codec, rec Record, tenantExternalID string) (License, error) {
	raw, err := c.Decrypt(rec.Envelope(), tenantExternalID)
	if err != nil {
		return License{}, err
	}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return License{}, fmt.Errorf("license: decode payload: %w", err)
	}
	if p.ClientID != tenantExternalID {
		return License{}, ErrTenantMismatch
	}
	start, err := time.Parse(time.RFC3339, p.StartDate)
	if err != nil {
		return License{}, fmt.Errorf("license: start date: %w", err)
	}
	end, err := time.Parse(time.RFC3339, p.EndDate)
	if err != nil {
		return License{}, fmt.Errorf("license: end date: %w", err)
	}
	return License{TenantExternalID: p.ClientID, StartDate: start, EndDate: end}, nil
}
