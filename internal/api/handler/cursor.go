package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/task-notifier/internal/delivery/domain"
)

// DecodeCursor parses a cursor produced by EncodeCursor. An empty string
// means the first page.
func DecodeCursor(cursorStr string) (*domain.Cursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCursor, err)
	}

	decodedParts := strings.SplitN(string(decoded), "|", 2)
	if len(decodedParts) != 2 || decodedParts[1] == "" {
		return nil, fmt.Errorf("%w: expected <created_at>|<job_id>", domain.ErrInvalidCursor)
	}

	var createdAt int64
	if _, err := fmt.Sscanf(decodedParts[0], "%d", &createdAt); err != nil {
		return nil, fmt.Errorf("%w: invalid created_at: %v", domain.ErrInvalidCursor, err)
	}

	return &domain.Cursor{
		CreatedAt: time.Unix(0, createdAt).UTC(),
		ID:        decodedParts[1],
	}, nil
}

// EncodeCursor renders the position after job.
func EncodeCursor(job *domain.DeliveryJob) string {
	cs := fmt.Sprintf("%d|%s", job.CreatedAt.UnixNano(), job.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(cs))
}
