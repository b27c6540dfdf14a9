package session

import (
	"time"

	"github.com/phixlab/nutrilens/backend/internal/model"
)

// Event is an input to the state machine
type Event interface {
	Name() string
}

// ImageChosen selects a valid image
type ImageChosen struct{ Image Image }

// InvalidFileChosen reports a selected file whose type is not image/*
type InvalidFileChosen struct{ MIMEType string }

// ImageReadFailed reports a selected image whose bytes could not be read
type ImageReadFailed struct{}

// AnalyzeRequested starts an analysis tagged with RequestID
type AnalyzeRequested struct {
	RequestID string
	At        time.Time
}

// AnalysisSucceeded settles the analysis RequestID with a normalized result
type AnalysisSucceeded struct {
	RequestID string
	Result    model.NutritionResult
}

// AnalysisFailed settles the analysis RequestID with a failure
type AnalysisFailed struct {
	RequestID string
	Reason    ErrorKind
}

// TabSelected switches the active tab of a result
type TabSelected struct{ Tab Tab }

// ResetRequested clears the session
type ResetRequested struct{}

func (ImageChosen) Name() string       { return "image_chosen" }
func (InvalidFileChosen) Name() string { return "invalid_file_chosen" }
func (ImageReadFailed) Name() string   { return "image_read_failed" }
func (AnalyzeRequested) Name() string  { return "analyze_requested" }
func (AnalysisSucceeded) Name() string { return "analysis_succeeded" }
func (AnalysisFailed) Name() string    { return "analysis_failed" }
func (TabSelected) Name() string       { return "tab_selected" }
func (ResetRequested) Name() string    { return "reset_requested" }

// Transition applies e to s. On error the returned state is s.
func Transition(s State, e Event) (State, error) {
	if s == nil {
		s = Idle{}
	}

	switch ev := e.(type) {
	case ImageChosen:
		switch s.(type) {
		case Idle, ImageSelected, Result, Failed:
			return ImageSelected{Image: ev.Image}, nil
		}

	case InvalidFileChosen:
		return rejectFile(s, e, InvalidFileType)

	case ImageReadFailed:
		return rejectFile(s, e, ImageReadFailure)

	case AnalyzeRequested:
		if ev.RequestID == "" {
			break
		}
		switch st := s.(type) {
		case ImageSelected:
			return Analyzing{Image: st.Image, RequestID: ev.RequestID, StartedAt: ev.At}, nil
		case Failed:
			return Analyzing{Image: st.Image, RequestID: ev.RequestID, StartedAt: ev.At}, nil
		}

	case AnalysisSucceeded:
		st, err := inFlight(s, e, ev.RequestID)
		if err != nil {
			return s, err
		}
		res := ev.Result
		if res.Food == nil {
			res.Food = []model.FoodItem{}
		}
		if res.Recipes == nil {
			res.Recipes = []model.Recipe{}
		}
		return Result{Image: st.Image, Result: res, Tab: TabOverview}, nil

	case AnalysisFailed:
		st, err := inFlight(s, e, ev.RequestID)
		if err != nil {
			return s, err
		}
		return Failed{Image: st.Image, Reason: ev.Reason, Message: ev.Reason.Message()}, nil

	case TabSelected:
		st, ok := s.(Result)
		if !ok {
			break
		}
		if _, valid := ParseTab(string(ev.Tab)); !valid {
			break
		}
		st.Tab = ev.Tab
		return st, nil

	case ResetRequested:
		switch s.(type) {
		case Idle, ImageSelected, Result, Failed:
			return Idle{}, nil
		}
	}

	return s, invalid(s, e, ErrInvalidTransition)
}

// rejectFile keeps any current image and surfaces reason.
func rejectFile(s State, e Event, reason ErrorKind) (State, error) {
	switch st := s.(type) {
	case Idle:
		return Idle{Notice: reason.Message()}, nil
	case ImageSelected:
		return ImageSelected{Image: st.Image, Notice: reason.Message()}, nil
	case Result:
		return Failed{Image: st.Image, Reason: reason, Message: reason.Message()}, nil
	case Failed:
		return Failed{Image: st.Image, Reason: reason, Message: reason.Message()}, nil
	}
	return s, invalid(s, e, ErrInvalidTransition)
}

// inFlight returns s as Analyzing when requestID is the current request.
func inFlight(s State, e Event, requestID string) (Analyzing, error) {
	st, ok := s.(Analyzing)
	if !ok || st.RequestID != requestID {
		return Analyzing{}, invalid(s, e, ErrStaleResponse)
	}
	return st, nil
}

func invalid(s State, e Event, err error) error {
	name := "<nil>"
	if e != nil {
		name = e.Name()
	}
	return &TransitionError{From: s.Kind(), Event: name, Err: err}
}
