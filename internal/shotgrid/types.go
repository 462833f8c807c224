package shotgrid

import (
	"fmt"
	"strconv"
)

// Entity types used by the pipeline.
const (
	TypeProject       = "Project"
	TypeSequence      = "Sequence"
	TypeShot          = "Shot"
	TypeTask          = "Task"
	TypeHumanUser     = "HumanUser"
	TypeVersion       = "Version"
	TypePublishedFile = "PublishedFile"
)

var entityPaths = map[string]string{
	TypeProject:       "projects",
	TypeSequence:      "sequences",
	TypeShot:          "shots",
	TypeTask:          "tasks",
	TypeHumanUser:     "human_users",
	TypeVersion:       "versions",
	TypePublishedFile: "published_files",
}

func entityPath(entityType string) string {
	if p, ok := entityPaths[entityType]; ok {
		return p
	}
	return entityType
}

// Entity is one record as returned by the REST API.
type Entity struct {
	Type          string                  `json:"type"`
	ID            int                     `json:"id"`
	Attributes    map[string]any          `json:"attributes,omitempty"`
	Relationships map[string]Relationship `json:"relationships,omitempty"`
}

// Relationship holds a linked entity reference, or a list of them.
type Relationship struct {
	Data any `json:"data"`
}

// Ref is the {type, id} link form used in filters and payloads.
type Ref struct {
	Type string `json:"type"`
	ID   int    `json:"id"`
}

func (e *Entity) Ref() Ref {
	return Ref{Type: e.Type, ID: e.ID}
}

// Attr returns a string attribute, or "" when missing.
func (e *Entity) Attr(name string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	switch v := e.Attributes[name].(type) {
	case string:
		return v
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Name returns the display field for the entity's type.
func (e *Entity) Name() string {
	switch e.Type {
	case TypeProject, TypeHumanUser:
		return e.Attr("name")
	case TypeTask:
		return e.Attr("content")
	default:
		return e.Attr("code")
	}
}

// Filter is one [field, operator, value...] condition.
type Filter []any

func Is(field string, value any) Filter {
	return Filter{field, "is", value}
}

func Contains(field string, value string) Filter {
	return Filter{field, "contains", value}
}

// Query describes a search.
type Query struct {
	Filters []Filter
	Fields  []string
	Sort    string
	Limit   int
}

type accessToken struct {
	TokenType    string `json:"token_type"`
	AccessToken  string `json:"access_token"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// uploadInfo is the response of the _upload request.
type uploadInfo struct {
	Data  map[string]any `json:"data"`
	Links struct {
		Upload         string `json:"upload"`
		CompleteUpload string `json:"complete_upload"`
		GetNextPart    string `json:"get_next_part"`
	} `json:"links"`
}
