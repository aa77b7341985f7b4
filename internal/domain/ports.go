package domain

import (
	"context"
	"time"
)

// LocalCache is the port for the durable on-device key/value store.
// Get returns nil, nil when the key is absent.
type LocalCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// RemoteMirror is the port for the network document store. Get returns
// nil, nil when the document does not exist. With merge set, Upsert
// overwrites only the top-level fields present in doc.
type RemoteMirror interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Upsert(ctx context.Context, collection, id string, doc Document, merge bool) error
}

// Unsubscribe cancels a live sensor subscription. Calling it more than once
// is a no-op.
type Unsubscribe func()

// StepSensor is the port for the device pedometer. Subscribe delivers the
// running step count since the subscription started.
type StepSensor interface {
	IsAvailable(ctx context.Context) bool
	QueryStepsSince(ctx context.Context, since time.Time) (int, error)
	Subscribe(ctx context.Context, fn func(steps int)) (Unsubscribe, error)
}

// PreferenceSource exposes the user settings the ledger depends on.
type PreferenceSource interface {
	FitnessSyncEnabled(ctx context.Context, userID string) (bool, error)
}

// Goals are the daily nutrition targets used for progress reporting.
type Goals struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
}
