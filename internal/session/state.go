// Package session holds the analysis session state machine.
//
// A session is always in exactly one State. States only change through
// Transition, which applies a single Event and either returns the next state
// or an error leaving the current state untouched.
package session

import (
	"time"

	"github.com/phixlab/nutrilens/backend/internal/model"
)

// Kind names a state
type Kind string

const (
	KindIdle          Kind = "idle"
	KindImageSelected Kind = "image_selected"
	KindAnalyzing     Kind = "analyzing"
	KindResult        Kind = "result"
	KindFailed        Kind = "failed"
)

// Tab selects the part of a result that is displayed
type Tab string

const (
	TabOverview Tab = "overview"
	TabFoods    Tab = "foods"
	TabRecipes  Tab = "recipes"
)

// ParseTab validates a tab name
func ParseTab(s string) (Tab, bool) {
	switch t := Tab(s); t {
	case TabOverview, TabFoods, TabRecipes:
		return t, true
	}
	return "", false
}

// Source is the entry point an image came from
type Source string

const (
	SourceUpload Source = "upload"
	SourceCamera Source = "camera"
)

// ParseSource maps a form value to a Source, defaulting to upload
func ParseSource(s string) Source {
	if Source(s) == SourceCamera {
		return SourceCamera
	}
	return SourceUpload
}

// Image references a selected image. The bytes live in an image store under Key.
type Image struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Source   Source `json:"source"`
}

// State is one of Idle, ImageSelected, Analyzing, Result or Failed.
type State interface {
	Kind() Kind
	isState()
}

// Idle is the initial state: no image chosen. Notice carries the message of
// a rejected selection.
type Idle struct {
	Notice string
}

// ImageSelected holds an image that has not been analyzed yet.
type ImageSelected struct {
	Image  Image
	Notice string
}

// Analyzing holds the image of the in-flight analysis and its request id.
type Analyzing struct {
	Image     Image
	RequestID string
	StartedAt time.Time
}

// Result holds a completed analysis and the active tab.
type Result struct {
	Image  Image
	Result model.NutritionResult
	Tab    Tab
}

// Failed holds the reason the last attempt failed. The image is kept so the
// analysis can be retried.
type Failed struct {
	Image   Image
	Reason  ErrorKind
	Message string
}

func (Idle) Kind() Kind          { return KindIdle }
func (ImageSelected) Kind() Kind { return KindImageSelected }
func (Analyzing) Kind() Kind     { return KindAnalyzing }
func (Result) Kind() Kind        { return KindResult }
func (Failed) Kind() Kind        { return KindFailed }

func (Idle) isState()          {}
func (ImageSelected) isState() {}
func (Analyzing) isState()     {}
func (Result) isState()        {}
func (Failed) isState()        {}

// ImageOf returns the image carried by s, if any.
func ImageOf(s State) (Image, bool) {
	switch st := s.(type) {
	case ImageSelected:
		return st.Image, true
	case Analyzing:
		return st.Image, true
	case Result:
		return st.Image, true
	case Failed:
		return st.Image, true
	}
	return Image{}, false
}
