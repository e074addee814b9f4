package sessionstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/farmpulse/storepulse/internal/domain"
)

// SchemaVersion is the version written by Encode.
const SchemaVersion = 1

// ErrUnsupportedVersion is returned by Decode for snapshots written by an unknown schema.
var ErrUnsupportedVersion = errors.New("unsupported notification snapshot version")

type snapshot struct {
	V       int        `json:"v"`
	Records []recordV1 `json:"records"`
}

type recordV1 struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
	Read      bool   `json:"read"`
}

// Encode serializes records into a versioned snapshot.
func Encode(records []domain.NotificationRecord) ([]byte, error) {
	snap := snapshot{V: SchemaVersion, Records: make([]recordV1, 0, len(records))}
	for _, r := range records {
		snap.Records = append(snap.Records, recordV1{
			ID:        r.ID,
			Kind:      string(r.Kind),
			Title:     r.Title,
			Message:   r.Message,
			CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339Nano),
			Read:      r.Read,
		})
	}
	return json.Marshal(snap)
}

// Decode parses a snapshot produced by Encode. Any shape mismatch is an error;
// callers decide whether to fall back to an empty list.
func Decode(data []byte) ([]domain.NotificationRecord, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.V != SchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, snap.V)
	}

	records := make([]domain.NotificationRecord, 0, len(snap.Records))
	for i, r := range snap.Records {
		if r.ID == "" {
			return nil, fmt.Errorf("record %d: missing id", i)
		}
		kind := domain.NotificationKind(r.Kind)
		switch kind {
		case domain.NotificationKindSale, domain.NotificationKindDelivery, domain.NotificationKindInfo:
		default:
			return nil, fmt.Errorf("record %d: unknown kind %q", i, r.Kind)
		}
		createdAt, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("record %d: created_at: %w", i, err)
		}
		records = append(records, domain.NotificationRecord{
			ID:        r.ID,
			Kind:      kind,
			Title:     r.Title,
			Message:   r.Message,
			CreatedAt: createdAt,
			Read:      r.Read,
		})
	}
	return records, nil
}
