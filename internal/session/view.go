package session

import "github.com/phixlab/nutrilens/backend/internal/model"

// View is the client-facing rendering of a session
type View struct {
	SessionID  string                 `json:"session_id"`
	State      Kind                   `json:"state"`
	Image      *ImageView             `json:"image,omitempty"`
	Notice     string                 `json:"notice,omitempty"`
	Error      *ErrorView             `json:"error,omitempty"`
	Analyzing  bool                   `json:"analyzing"`
	CanAnalyze bool                   `json:"can_analyze"`
	CanReset   bool                   `json:"can_reset"`
	ActiveTab  Tab                    `json:"active_tab,omitempty"`
	Result     *model.NutritionResult `json:"result,omitempty"`
	Counts     *Counts                `json:"counts,omitempty"`
}

// ImageView describes the selected image
type ImageView struct {
	Name       string `json:"name"`
	MIMEType   string `json:"mime_type"`
	Size       int64  `json:"size"`
	Source     Source `json:"source"`
	PreviewURL string `json:"preview_url,omitempty"`
}

// ErrorView is a surfaced failure
type ErrorView struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Counts are shown on the foods and recipes tabs
type Counts struct {
	Foods   int `json:"foods"`
	Recipes int `json:"recipes"`
}

// Render builds the view of s. previewURL is attached to the image, if any.
func Render(s *Session, previewURL string) View {
	v := View{SessionID: s.ID}
	state := s.State
	if state == nil {
		state = Idle{}
	}
	v.State = state.Kind()

	if img, ok := ImageOf(state); ok {
		v.Image = &ImageView{
			Name:       img.Name,
			MIMEType:   img.MIMEType,
			Size:       img.Size,
			Source:     img.Source,
			PreviewURL: previewURL,
		}
	}

	switch st := state.(type) {
	case Idle:
		v.Notice = st.Notice
	case ImageSelected:
		v.Notice = st.Notice
		v.CanAnalyze = true
		v.CanReset = true
	case Analyzing:
		v.Analyzing = true
	case Result:
		res := st.Result
		if res.Food == nil {
			res.Food = []model.FoodItem{}
		}
		if res.Recipes == nil {
			res.Recipes = []model.Recipe{}
		}
		v.Result = &res
		v.ActiveTab = st.Tab
		v.Counts = &Counts{Foods: len(res.Food), Recipes: len(res.Recipes)}
		v.CanReset = true
	case Failed:
		v.Error = &ErrorView{Kind: st.Reason, Message: st.Message}
		v.CanAnalyze = true
		v.CanReset = true
	}
	return v
}
