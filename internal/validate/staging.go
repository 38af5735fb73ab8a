// Package validate checks staging job requests before they reach the job store.
package validate

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/kiranshivaraju/stager/pkg/models"
)

// MaxItems is the largest number of items a single job may place.
const MaxItems = 12

var reItemID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// FileInput describes an uploaded source photo. Content is handled by the
// caller; validation only inspects its metadata.
type FileInput struct {
	Name        string
	ContentType string
	Size        int64
}

// CreateJobInput is the raw, untrusted shape of a job creation request.
// Fields decoded from JSON are kept as any so a value of the wrong type is
// reported alongside every other violation. Absent fields are nil.
type CreateJobInput struct {
	File       *FileInput
	URL        any
	RoomType   any
	Style      any
	Items      any
	Resolution any
}

// JobRequest is a validated request. Exactly one of File and URL is set.
type JobRequest struct {
	File       *FileInput
	URL        string
	RoomType   models.RoomType
	Style      models.StyleID
	Items      []string
	Resolution models.Resolution
}

// Normalized returns the models.JobRequest for an already stored input image.
func (r JobRequest) Normalized(inputImageRef string) models.JobRequest {
	return models.JobRequest{
		InputImageRef: inputImageRef,
		RoomType:      r.RoomType,
		Style:         r.Style,
		Items:         append([]string{}, r.Items...),
		Resolution:    r.Resolution,
	}
}

// ValidationError lists every problem found in a request.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return "invalid job request: " + strings.Join(e.Messages, "; ")
}

func (e *ValidationError) add(format string, args ...any) {
	e.Messages = append(e.Messages, fmt.Sprintf(format, args...))
}

// text reads a field that must be a string. A missing field reads as "".
// Any other type is recorded as a violation and reported as not ok.
func (e *ValidationError) text(field string, v any) (string, bool) {
	switch s := v.(type) {
	case nil:
		return "", true
	case string:
		return s, true
	default:
		e.add("%s must be a string", field)
		return "", false
	}
}

// CreateJob validates in and returns the normalized request, or a
// ValidationError carrying every violation found.
func CreateJob(in CreateJobInput) (JobRequest, *ValidationError) {
	verr := &ValidationError{}
	out := JobRequest{Items: []string{}}

	// A file takes precedence; a URL sent alongside it is ignored.
	rawURL, urlOK := verr.text("url", in.URL)
	switch {
	case in.File != nil:
		if in.File.Size <= 0 {
			verr.add("file is empty")
		}
		if !strings.HasPrefix(strings.ToLower(in.File.ContentType), "image/") {
			verr.add("file must be an image, got content type %q", in.File.ContentType)
		}
		f := *in.File
		out.File = &f
	case !urlOK:
	case strings.TrimSpace(rawURL) != "":
		u := strings.TrimSpace(rawURL)
		if !isAbsoluteURL(u) {
			verr.add("url must be an absolute http(s) URL, got %q", u)
		}
		out.URL = u
	default:
		verr.add("an image file or url is required")
	}

	if raw, ok := verr.text("room_type", in.RoomType); ok {
		rt := models.RoomType(raw)
		if !rt.Valid() {
			verr.add("room_type must be one of %s, got %q", joinRoomTypes(), raw)
		}
		out.RoomType = rt
	}

	if raw, ok := verr.text("style", in.Style); ok {
		style := models.StyleID(raw)
		if !style.Valid() {
			verr.add("style must be one of %s, got %q", joinStyles(), raw)
		}
		out.Style = style
	}

	var items []any
	switch v := in.Items.(type) {
	case nil:
	case []any:
		items = v
	case []string:
		for _, it := range v {
			items = append(items, it)
		}
	default:
		verr.add("items must be an array of item identifiers")
	}
	if len(items) > MaxItems {
		verr.add("items must contain at most %d entries, got %d", MaxItems, len(items))
	}
	for i, raw := range items {
		id, ok := raw.(string)
		if !ok {
			verr.add("items[%d] must be a string identifier", i)
			continue
		}
		if !reItemID.MatchString(id) {
			verr.add("items[%d] is not a valid identifier: %q", i, id)
			continue
		}
		out.Items = append(out.Items, id)
	}

	if raw, ok := verr.text("resolution", in.Resolution); ok {
		res := models.Resolution(strings.ToLower(strings.TrimSpace(raw)))
		if res == "" {
			res = models.DefaultResolution
		}
		if !res.Valid() {
			verr.add("resolution must be one of 1k, 2k, 4k, got %q", raw)
		}
		out.Resolution = res
	}

	if len(verr.Messages) > 0 {
		return JobRequest{}, verr
	}
	return out, nil
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.IsAbs() && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func joinRoomTypes() string {
	parts := make([]string, len(models.RoomTypes))
	for i, rt := range models.RoomTypes {
		parts[i] = string(rt)
	}
	return strings.Join(parts, ", ")
}

func joinStyles() string {
	parts := make([]string, len(models.StyleIDs))
	for i, s := range models.StyleIDs {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}
