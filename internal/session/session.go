package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/phixlab/nutrilens/backend/internal/model"
)

// Session is one anonymous analysis session
type Session struct {
	ID        string
	State     State
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates an idle session
func New(now time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		State:     Idle{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Apply transitions the session with e
func (s *Session) Apply(e Event, now time.Time) error {
	next, err := Transition(s.State, e)
	if err != nil {
		return err
	}
	s.State = next
	s.UpdatedAt = now
	return nil
}

// record is the stored form of a session. Only the fields of the active
// state are set.
type record struct {
	ID        string                 `json:"id"`
	Kind      Kind                   `json:"kind"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	Notice    string                 `json:"notice,omitempty"`
	Image     *Image                 `json:"image,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	StartedAt *time.Time             `json:"started_at,omitempty"`
	Result    *model.NutritionResult `json:"result,omitempty"`
	Tab       Tab                    `json:"tab,omitempty"`
	Reason    ErrorKind              `json:"reason,omitempty"`
	Message   string                 `json:"message,omitempty"`
}

func (s Session) MarshalJSON() ([]byte, error) {
	state := s.State
	if state == nil {
		state = Idle{}
	}
	r := record{ID: s.ID, Kind: state.Kind(), CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt}

	switch st := state.(type) {
	case Idle:
		r.Notice = st.Notice
	case ImageSelected:
		r.Image, r.Notice = &st.Image, st.Notice
	case Analyzing:
		r.Image, r.RequestID, r.StartedAt = &st.Image, st.RequestID, &st.StartedAt
	case Result:
		r.Image, r.Result, r.Tab = &st.Image, &st.Result, st.Tab
	case Failed:
		r.Image, r.Reason, r.Message = &st.Image, st.Reason, st.Message
	}
	return json.Marshal(r)
}

func (s *Session) UnmarshalJSON(data []byte) error {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}

	img := Image{}
	if r.Image != nil {
		img = *r.Image
	}

	var state State
	switch r.Kind {
	case KindIdle, "":
		state = Idle{Notice: r.Notice}
	case KindImageSelected:
		state = ImageSelected{Image: img, Notice: r.Notice}
	case KindAnalyzing:
		a := Analyzing{Image: img, RequestID: r.RequestID}
		if r.StartedAt != nil {
			a.StartedAt = *r.StartedAt
		}
		state = a
	case KindResult:
		res := Result{Image: img, Tab: r.Tab}
		if r.Result != nil {
			res.Result = *r.Result
		}
		if res.Tab == "" {
			res.Tab = TabOverview
		}
		state = res
	case KindFailed:
		state = Failed{Image: img, Reason: r.Reason, Message: r.Message}
	default:
		return fmt.Errorf("unknown session state %q", r.Kind)
	}

	*s = Session{ID: r.ID, State: state, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
	return nil
}
