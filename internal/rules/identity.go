package rules

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/affix/internal/carrier"
)

// Attachment keys owned by the rule manager.
const (
	AttachmentAffixes = "affixes"
	AttachmentUID     = "affix_uid"
)

// Identity returns the key cooldown and cache state is indexed by.
//
// A carrier with a stored uid keeps it forever. A carrier holding rules but
// no uid (seeded or loaded from an older store) is given one now. Any other
// carrier is identified by its type and a hash of its ancillary attachments,
// so identical rule-less carriers share a key.
func (m *Manager) Identity(c carrier.Carrier) string {
	if uid := storedUID(c); uid != "" {
		return uid
	}
	if len(records(c)) > 0 {
		return assignUID(c)
	}
	return derivedIdentity(c)
}

func storedUID(c carrier.Carrier) string {
	v, ok := c.Attachment(AttachmentUID)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func assignUID(c carrier.Carrier) string {
	uid := uuid.New().String()
	c.SetAttachment(AttachmentUID, uid)
	return uid
}

func derivedIdentity(c carrier.Carrier) string {
	attachments := c.Attachments()
	keys := make([]string, 0, len(attachments))
	for k := range attachments {
		if k == AttachmentAffixes || k == AttachmentUID {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := xxhash.New()
	for _, k := range keys {
		_, _ = d.WriteString(k)
		_, _ = d.Write([]byte{0})
		raw, err := json.Marshal(attachments[k])
		if err != nil {
			raw = []byte(fmt.Sprintf("%v", attachments[k]))
		}
		_, _ = d.Write(raw)
		_, _ = d.Write([]byte{0})
	}
	return fmt.Sprintf("%s:%016x", c.Type(), d.Sum64())
}
