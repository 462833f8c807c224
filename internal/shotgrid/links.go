package shotgrid

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// Link is an entity with its web UI URL.
type Link struct {
	Entity
	URL   string  `json:"url"`
	Score float64 `json:"similarity_score,omitempty"`
}

// FileLinks is a Version and the PublishedFiles pointing at it.
type FileLinks struct {
	Version        Link   `json:"version"`
	MoviePath      string `json:"movie_path,omitempty"`
	PublishedFiles []Link `json:"published_files"`
}

var versionFields = []string{
	"code", "entity", "sg_task", "created_at", "description",
	"sg_path_to_movie", "sg_uploaded_movie", "image",
}

// LinkManager builds web links and searches existing Versions. Every
// method degrades to an empty result when the server is unavailable.
type LinkManager struct {
	client   Client
	entities *EntityManager
	logger   *slog.Logger
}

func NewLinkManager(client Client, entities *EntityManager, logger *slog.Logger) *LinkManager {
	return &LinkManager{client: client, entities: entities, logger: logger}
}

// EntityURL returns {server}/detail/{Type}/{id}, or "" without a server.
func (l *LinkManager) EntityURL(entityType string, id int) string {
	server := normalizeServerURL(l.client.ServerURL())
	if server == "" || id == 0 {
		return ""
	}
	return fmt.Sprintf("%s/detail/%s/%d", server, entityType, id)
}

func (l *LinkManager) link(e Entity) Link {
	return Link{Entity: e, URL: l.EntityURL(e.Type, e.ID)}
}

func (l *LinkManager) readFailed(op string, err error) {
	l.logger.Error("shotgrid read failed", "op", op, "error", err)
}

// ExistingVersions lists Versions for a shot and task, newest first. Empty
// shot or task widens the search.
func (l *LinkManager) ExistingVersions(ctx context.Context, project, shot, task string) []Link {
	if !l.client.IsConnected() {
		l.logger.Error("not connected to shotgrid", "op", "existing versions")
		return nil
	}
	proj := l.entities.FindProject(ctx, project)
	if proj == nil {
		return nil
	}
	filters := []Filter{Is("project", proj.Ref())}
	if shot != "" {
		s := l.entities.FindShot(ctx, proj, nil, shot)
		if s == nil {
			return nil
		}
		filters = append(filters, Is("entity", s.Ref()))
		if task != "" {
			t := l.entities.FindTask(ctx, proj, s, task)
			if t == nil {
				return nil
			}
			filters = append(filters, Is("sg_task", t.Ref()))
		}
	}

	versions, err := l.client.Find(ctx, TypeVersion, Query{Filters: filters, Fields: versionFields, Sort: "-created_at"})
	if err != nil {
		l.readFailed("existing versions", err)
		return nil
	}
	out := make([]Link, len(versions))
	for i, v := range versions {
		out[i] = l.link(v)
	}
	return out
}

// FileLinks returns the Version and its PublishedFiles, or nil.
func (l *LinkManager) FileLinks(ctx context.Context, versionID int) *FileLinks {
	if !l.client.IsConnected() {
		l.logger.Error("not connected to shotgrid", "op", "file links")
		return nil
	}
	versions, err := l.client.Find(ctx, TypeVersion, Query{
		Filters: []Filter{Is("id", versionID)},
		Fields:  versionFields,
		Limit:   1,
	})
	if err != nil {
		l.readFailed("file links", err)
		return nil
	}
	if len(versions) == 0 {
		l.logger.Warn("version not found", "version_id", versionID)
		return nil
	}
	v := versions[0]

	published, err := l.client.Find(ctx, TypePublishedFile, Query{
		Filters: []Filter{Is("version", v.Ref())},
		Fields:  []string{"code", "path", "published_file_type"},
	})
	if err != nil {
		l.readFailed("published files", err)
		published = nil
	}
	out := &FileLinks{
		Version:        l.link(v),
		MoviePath:      v.Attr("sg_path_to_movie"),
		PublishedFiles: make([]Link, len(published)),
	}
	for i, p := range published {
		out.PublishedFiles[i] = l.link(p)
	}
	return out
}

// SearchSimilar finds Versions whose code contains the file's base token
// and ranks them by name similarity, best first.
func (l *LinkManager) SearchSimilar(ctx context.Context, fileName, project, sequence string) []Link {
	if !l.client.IsConnected() {
		l.logger.Error("not connected to shotgrid", "op", "search similar")
		return nil
	}
	proj := l.entities.FindProject(ctx, project)
	if proj == nil {
		return nil
	}
	filters := []Filter{
		Is("project", proj.Ref()),
		Contains("code", BaseToken(fileName)),
	}
	if sequence != "" {
		if seq := l.entities.FindSequence(ctx, proj, sequence); seq != nil {
			filters = append(filters, Is("entity.Shot.sg_sequence", seq.Ref()))
		}
	}

	versions, err := l.client.Find(ctx, TypeVersion, Query{Filters: filters, Fields: versionFields})
	if err != nil {
		l.readFailed("search similar", err)
		return nil
	}
	out := make([]Link, len(versions))
	for i, v := range versions {
		out[i] = l.link(v)
		out[i].Score = Similarity(fileName, v.Attr("code"))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	l.logger.Info("similar versions found", "file", fileName, "count", len(out))
	return out
}
