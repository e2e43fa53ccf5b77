// Package activitylog records who produced a report and where it went.
// Sinks are fire-and-forget: failures are logged, never surfaced to the
// profiler flow.
package activitylog

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/flarelabs/flare/internal/logutil"
	"github.com/flarelabs/flare/internal/timeutil"
)

// Data types of an activity's location.
const (
	DataTypeURL  = "url"
	DataTypeFile = "file"
)

type (
	Activity struct {
		Actor    string        `json:"actor"`
		ActorID  uuid.UUID     `json:"actor_id,omitempty"`
		Time     timeutil.Time `json:"time"`
		Category string        `json:"category"`
		DataType string        `json:"data_type"`
		Data     string        `json:"data"`
	}

	// Log accepts activity records. Add never blocks the caller on a slow
	// sink and never returns an error.
	Log interface {
		Add(ctx context.Context, a Activity)
	}
)

// URLActivity records a successful upload.
func URLActivity(actor string, actorID uuid.UUID, category, url string) Activity {
	return Activity{
		Actor:    actor,
		ActorID:  actorID,
		Time:     timeutil.Time(time.Now()),
		Category: category,
		DataType: DataTypeURL,
		Data:     url,
	}
}

// FileActivity records a successful save.
func FileActivity(actor string, actorID uuid.UUID, category, path string) Activity {
	return Activity{
		Actor:    actor,
		ActorID:  actorID,
		Time:     timeutil.Time(time.Now()),
		Category: category,
		DataType: DataTypeFile,
		Data:     path,
	}
}

// Nop discards all activities.
var Nop Log = nopLog{}

type nopLog struct{}

func (nopLog) Add(context.Context, Activity) {}

// FileLog appends activities to a JSON-lines file.
type FileLog struct {
	mu   sync.Mutex
	path string
	log  zerolog.Logger
}

func NewFileLog(path string) *FileLog {
	return &FileLog{path: path, log: logutil.Component("activity-log")}
}

func (l *FileLog) Add(_ context.Context, a Activity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		l.log.Warn().Err(err).Msg("opening activity log")
		return
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(a); err != nil {
		l.log.Warn().Err(err).Msg("writing activity log entry")
	}
}
