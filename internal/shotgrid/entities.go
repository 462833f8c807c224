package shotgrid

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// EntityManager finds and creates the Project > Sequence > Shot > Task
// hierarchy. Find methods log failures and return nil; Create methods
// return typed errors.
type EntityManager struct {
	client Client
	logger *slog.Logger
}

func NewEntityManager(client Client, logger *slog.Logger) *EntityManager {
	return &EntityManager{client: client, logger: logger}
}

func (m *EntityManager) findOne(ctx context.Context, entityType string, filters []Filter, fields []string) (*Entity, error) {
	found, err := m.client.Find(ctx, entityType, Query{Filters: filters, Fields: fields, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

// degrade logs a read failure and drops the error.
func (m *EntityManager) degrade(op string, e *Entity, err error) *Entity {
	if err != nil {
		m.logger.Error("shotgrid read failed", "op", op, "error", err)
		return nil
	}
	return e
}

func (m *EntityManager) findProject(ctx context.Context, name string) (*Entity, error) {
	return m.findOne(ctx, TypeProject, []Filter{Is("name", name)}, []string{"name", "sg_status"})
}

func (m *EntityManager) findSequence(ctx context.Context, project *Entity, code string) (*Entity, error) {
	return m.findOne(ctx, TypeSequence, []Filter{Is("project", project.Ref()), Is("code", code)}, []string{"code", "project"})
}

func (m *EntityManager) findShot(ctx context.Context, project, sequence *Entity, code string) (*Entity, error) {
	filters := []Filter{Is("project", project.Ref()), Is("code", code)}
	if sequence != nil {
		filters = append(filters, Is("sg_sequence", sequence.Ref()))
	}
	return m.findOne(ctx, TypeShot, filters, []string{"code", "sg_sequence", "project"})
}

func (m *EntityManager) findTask(ctx context.Context, project, entity *Entity, content string) (*Entity, error) {
	return m.findOne(ctx, TypeTask, []Filter{
		Is("project", project.Ref()),
		Is("entity", entity.Ref()),
		Is("content", content),
	}, []string{"content", "sg_status_list", "task_assignees"})
}

func (m *EntityManager) findUser(ctx context.Context, email string) (*Entity, error) {
	return m.findOne(ctx, TypeHumanUser, []Filter{Is("email", email)}, []string{"name", "email", "login"})
}

func (m *EntityManager) FindProject(ctx context.Context, name string) *Entity {
	e, err := m.findProject(ctx, name)
	return m.degrade("find project", e, err)
}

func (m *EntityManager) FindSequence(ctx context.Context, project *Entity, code string) *Entity {
	e, err := m.findSequence(ctx, project, code)
	return m.degrade("find sequence", e, err)
}

func (m *EntityManager) FindShot(ctx context.Context, project, sequence *Entity, code string) *Entity {
	e, err := m.findShot(ctx, project, sequence, code)
	return m.degrade("find shot", e, err)
}

func (m *EntityManager) FindTask(ctx context.Context, project, entity *Entity, content string) *Entity {
	e, err := m.findTask(ctx, project, entity, content)
	return m.degrade("find task", e, err)
}

func (m *EntityManager) FindUser(ctx context.Context, email string) *Entity {
	if strings.TrimSpace(email) == "" {
		return nil
	}
	e, err := m.findUser(ctx, email)
	return m.degrade("find user", e, err)
}

// ListProjects returns active projects sorted by name.
func (m *EntityManager) ListProjects(ctx context.Context) []Entity {
	projects, err := m.client.Find(ctx, TypeProject, Query{
		Filters: []Filter{Is("sg_status", "Active")},
		Fields:  []string{"name", "sg_status"},
		Sort:    "name",
	})
	if err != nil {
		m.logger.Error("shotgrid read failed", "op", "list projects", "error", err)
		return nil
	}
	return projects
}

// CreateProject returns the existing project or creates it.
func (m *EntityManager) CreateProject(ctx context.Context, name string) (*Entity, error) {
	if e, err := m.findProject(ctx, name); err != nil {
		return nil, mutationError("find", TypeProject, "", err)
	} else if e != nil {
		return e, nil
	}
	m.logger.Info("creating shotgrid project", "name", name)
	return m.client.Create(ctx, TypeProject, map[string]any{"name": name})
}

func (m *EntityManager) CreateSequence(ctx context.Context, project *Entity, code string) (*Entity, error) {
	if e, err := m.findSequence(ctx, project, code); err != nil {
		return nil, mutationError("find", TypeSequence, "", err)
	} else if e != nil {
		return e, nil
	}
	m.logger.Info("creating shotgrid sequence", "project", project.Name(), "code", code)
	return m.client.Create(ctx, TypeSequence, map[string]any{
		"code":    code,
		"project": project.Ref(),
	})
}

func (m *EntityManager) CreateShot(ctx context.Context, project, sequence *Entity, code string) (*Entity, error) {
	if e, err := m.findShot(ctx, project, sequence, code); err != nil {
		return nil, mutationError("find", TypeShot, "", err)
	} else if e != nil {
		return e, nil
	}
	attrs := map[string]any{
		"code":    code,
		"project": project.Ref(),
	}
	if sequence != nil {
		attrs["sg_sequence"] = sequence.Ref()
	}
	m.logger.Info("creating shotgrid shot", "project", project.Name(), "code", code)
	return m.client.Create(ctx, TypeShot, attrs)
}

// CreateTask returns the existing task or creates one with status.
func (m *EntityManager) CreateTask(ctx context.Context, project, entity *Entity, content, status string) (*Entity, error) {
	if e, err := m.findTask(ctx, project, entity, content); err != nil {
		return nil, mutationError("find", TypeTask, "", err)
	} else if e != nil {
		return e, nil
	}
	attrs := map[string]any{
		"content": content,
		"project": project.Ref(),
		"entity":  entity.Ref(),
	}
	if status != "" {
		attrs["sg_status_list"] = status
	}
	m.logger.Info("creating shotgrid task", "entity", entity.Name(), "content", content)
	return m.client.Create(ctx, TypeTask, attrs)
}

// EnsureRequest names the hierarchy to resolve.
type EnsureRequest struct {
	Project   string
	Sequence  string
	Shot      string
	Task      string
	UserEmail string
	Status    string
}

// Entities is the resolved hierarchy. User may be nil.
type Entities struct {
	Project  *Entity
	Sequence *Entity
	Shot     *Entity
	Task     *Entity
	User     *Entity
}

// EnsureEntities finds or creates every level and assigns the user to a
// task it had to create.
func (m *EntityManager) EnsureEntities(ctx context.Context, req EnsureRequest) (*Entities, error) {
	if req.Project == "" || req.Sequence == "" || req.Shot == "" || req.Task == "" {
		return nil, fmt.Errorf("ensure entities: project, sequence, shot and task are required")
	}
	out := &Entities{}
	var err error
	if out.Project, err = m.CreateProject(ctx, req.Project); err != nil {
		return nil, err
	}
	if out.Sequence, err = m.CreateSequence(ctx, out.Project, req.Sequence); err != nil {
		return nil, err
	}
	if out.Shot, err = m.CreateShot(ctx, out.Project, out.Sequence, req.Shot); err != nil {
		return nil, err
	}

	existing, err := m.findTask(ctx, out.Project, out.Shot, req.Task)
	if err != nil {
		return nil, mutationError("find", TypeTask, "", err)
	}
	out.User = m.FindUser(ctx, req.UserEmail)
	if existing != nil {
		out.Task = existing
		return out, nil
	}
	if out.Task, err = m.CreateTask(ctx, out.Project, out.Shot, req.Task, req.Status); err != nil {
		return nil, err
	}
	if out.User != nil {
		if _, err := m.client.Update(ctx, TypeTask, out.Task.ID, map[string]any{
			"task_assignees": []Ref{out.User.Ref()},
		}); err != nil {
			m.logger.Warn("task assignment failed", "task", out.Task.ID, "user", req.UserEmail, "error", err)
		}
	}
	return out, nil
}
