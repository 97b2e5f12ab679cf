package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"tasktogether-api/domain"
	"tasktogether-api/store"
)

// Tagged failure modes for mutation operations. Callers distinguish a denied
// mutation from a missing entity with errors.Is.
var (
	ErrDenied   = errors.New("permission denied")
	ErrNotFound = errors.New("not found")
)

// Publisher sends a freshly posted chat message to other execution contexts.
type Publisher interface {
	Publish(ctx context.Context, groupID string, msg domain.ChatMessage) error
}

// Engine is the state container for the shared document. Every operation is a
// synchronous read-modify-write of the whole document: load, validate, mutate,
// save. Nothing is cached between operations, so concurrent engines sharing
// one store race with last-writer-wins semantics.
type Engine struct {
	store  store.Store
	pub    Publisher
	logger *log.Logger
	now    func() time.Time
}

// New creates an Engine on top of the given document store. pub may be nil
// when the context has no other tabs to notify.
func New(s store.Store, pub Publisher, logger *log.Logger) *Engine {
	return &Engine{store: s, pub: pub, logger: logger, now: time.Now}
}

func (e *Engine) nowMillis() int64 {
	return e.now().UnixMilli()
}

func (e *Engine) notify(doc *domain.Document, text string) {
	n := domain.Notification{ID: uuid.NewString(), Text: text, Ts: e.nowMillis()}
	doc.Notifications = append([]domain.Notification{n}, doc.Notifications...)
}

// EnsureSeed populates the document with a default leader, group and project
// exactly once. Subsequent calls are no-ops.
func (e *Engine) EnsureSeed(ctx context.Context) error {
	doc := e.store.Load(ctx)
	if doc.Seeded {
		return nil
	}

	userID := uuid.NewString()
	doc.Users[userID] = &domain.User{
		ID:    userID,
		Name:  "Guest",
		Email: "guest@example.com",
		Role:  domain.RoleLeader,
	}
	doc.CurrentUserID = userID

	groupID := uuid.NewString()
	doc.Groups[groupID] = &domain.Group{
		ID:         groupID,
		Name:       "Marketing Project",
		Members:    []string{userID},
		Roles:      map[string]string{userID: domain.RoleOwner},
		Visibility: domain.VisibilityTeam,
		Projects:   []domain.Project{{ID: uuid.NewString(), Name: "Website redesign"}},
		Tasks:      []domain.Task{},
		Chat:       []domain.ChatMessage{},
	}
	doc.GroupOrder = []string{groupID}
	doc.Seeded = true
	return e.store.Save(ctx, doc)
}

// Snapshot returns the current document. Callers treat it as read-only; it is
// the re-read performed when another context signals a change.
func (e *Engine) Snapshot(ctx context.Context) *domain.Document {
	return e.store.Load(ctx)
}

// CurrentUser returns the active session's user, or ErrNotFound when no
// session is recorded or the reference dangles.
func (e *Engine) CurrentUser(ctx context.Context) (*domain.User, error) {
	doc := e.store.Load(ctx)
	if doc.CurrentUserID == "" {
		return nil, ErrNotFound
	}
	u, ok := doc.Users[doc.CurrentUserID]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

// SetCurrentUser records the user and makes it the active session.
func (e *Engine) SetCurrentUser(ctx context.Context, u domain.User) error {
	doc := e.store.Load(ctx)
	doc.Users[u.ID] = &u
	doc.CurrentUserID = u.ID
	return e.store.Save(ctx, doc)
}

// RoleInGroup reports the user's role within the group; empty when the group
// is unknown.
func (e *Engine) RoleInGroup(ctx context.Context, groupID, userID string) string {
	return domain.RoleInGroup(e.store.Load(ctx), groupID, userID)
}

// CanEditGroup reports whether the user may mutate the group's contents.
func (e *Engine) CanEditGroup(ctx context.Context, groupID, userID string) bool {
	return domain.CanEditGroup(e.store.Load(ctx), groupID, userID)
}

// CreateGroup creates a group owned by the current user. Only global leaders
// may create groups. memberEmailsCsv is a comma-separated list of emails;
// each becomes a placeholder member whose name is the email's local part.
func (e *Engine) CreateGroup(ctx context.Context, name, memberEmailsCsv string) (string, error) {
	doc := e.store.Load(ctx)
	current, ok := doc.Users[doc.CurrentUserID]
	if !ok || current.Role != domain.RoleLeader {
		e.logger.WithField("user", doc.CurrentUserID).Warn("group creation denied: not a leader")
		return "", ErrDenied
	}

	memberIDs := []string{current.ID}
	for _, email := range strings.Split(memberEmailsCsv, ",") {
		email = strings.TrimSpace(email)
		if email == "" {
			continue
		}
		uid := uuid.NewString()
		memberName := email
		if at := strings.Index(email, "@"); at >= 0 {
			memberName = email[:at]
		}
		if memberName == "" {
			memberName = "User"
		}
		doc.Users[uid] = &domain.User{ID: uid, Name: memberName, Email: email}
		memberIDs = append(memberIDs, uid)
	}

	groupID := uuid.NewString()
	doc.Groups[groupID] = &domain.Group{
		ID:         groupID,
		Name:       name,
		Members:    memberIDs,
		Roles:      map[string]string{current.ID: domain.RoleOwner},
		Visibility: domain.VisibilityTeam,
		Projects:   []domain.Project{{ID: uuid.NewString(), Name: "General"}},
		Tasks:      []domain.Task{},
		Chat:       []domain.ChatMessage{},
	}
	doc.GroupOrder = append([]string{groupID}, doc.GroupOrder...)
	e.notify(doc, "Group created: "+name)

	if err := e.store.Save(ctx, doc); err != nil {
		return "", err
	}
	return groupID, nil
}

// TaskInput carries the caller-supplied fields for a new task.
type TaskInput struct {
	Name        string
	ProjectID   string
	Description string
	Labels      []string
	DueDate     string
	AssigneeID  string
	Status      string
}

const maxTaskLabels = 8

// CreateTask prepends a task to the group's task list. The caller must be
// able to edit the group. An unset project falls back to the group's first
// project; labels are truncated to eight.
func (e *Engine) CreateTask(ctx context.Context, groupID string, input TaskInput) (string, error) {
	doc := e.store.Load(ctx)
	g, ok := doc.Groups[groupID]
	if !ok {
		return "", ErrNotFound
	}
	if !domain.CanEditGroup(doc, groupID, doc.CurrentUserID) {
		e.logger.WithFields(log.Fields{"user": doc.CurrentUserID, "group": groupID}).
			Warn("task creation denied")
		return "", ErrDenied
	}

	projectID := input.ProjectID
	if projectID == "" && len(g.Projects) > 0 {
		projectID = g.Projects[0].ID
	}
	labels := input.Labels
	if len(labels) > maxTaskLabels {
		labels = labels[:maxTaskLabels]
	}
	status := input.Status
	if status == "" {
		status = "todo"
	}

	task := domain.Task{
		ID:          uuid.NewString(),
		Name:        input.Name,
		ProjectID:   projectID,
		Description: input.Description,
		Comments:    []string{},
		Labels:      labels,
		DueDate:     input.DueDate,
		AssigneeID:  input.AssigneeID,
		Status:      status,
	}
	g.Tasks = append([]domain.Task{task}, g.Tasks...)
	e.notify(doc, "New task in "+g.Name+": "+input.Name)

	if err := e.store.Save(ctx, doc); err != nil {
		return "", err
	}
	return task.ID, nil
}

// TaskPatch is a shallow merge for UpdateTask: nil fields are left untouched.
type TaskPatch struct {
	Name        *string
	ProjectID   *string
	Description *string
	Labels      *[]string
	DueDate     *string
	AssigneeID  *string
	Status      *string
	Done        *bool
}

// UpdateTask merges the patch onto the task found in the given group's list.
// No permission check is applied: assignees update their own tasks without
// holding an edit role. The task is only looked up within the named group.
func (e *Engine) UpdateTask(ctx context.Context, groupID, taskID string, patch TaskPatch) error {
	doc := e.store.Load(ctx)
	g, ok := doc.Groups[groupID]
	if !ok {
		return ErrNotFound
	}
	t := g.FindTask(taskID)
	if t == nil {
		return ErrNotFound
	}

	if patch.Name != nil {
		t.Name = *patch.Name
	}
	if patch.ProjectID != nil {
		t.ProjectID = *patch.ProjectID
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Labels != nil {
		t.Labels = *patch.Labels
	}
	if patch.DueDate != nil {
		t.DueDate = *patch.DueDate
	}
	if patch.AssigneeID != nil {
		t.AssigneeID = *patch.AssigneeID
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.Done != nil {
		t.Done = *patch.Done
	}
	return e.store.Save(ctx, doc)
}

// CreateProject appends a project to the group. The caller must be able to
// edit the group.
func (e *Engine) CreateProject(ctx context.Context, groupID, name string) (string, error) {
	doc := e.store.Load(ctx)
	g, ok := doc.Groups[groupID]
	if !ok {
		return "", ErrNotFound
	}
	if !domain.CanEditGroup(doc, groupID, doc.CurrentUserID) {
		e.logger.WithFields(log.Fields{"user": doc.CurrentUserID, "group": groupID}).
			Warn("project creation denied")
		return "", ErrDenied
	}

	p := domain.Project{ID: uuid.NewString(), Name: name}
	g.Projects = append(g.Projects, p)
	if err := e.store.Save(ctx, doc); err != nil {
		return "", err
	}
	return p.ID, nil
}

// DeleteTask removes the task from the group's list. The caller must be able
// to edit the group. Deleting an unknown task id is a no-op.
func (e *Engine) DeleteTask(ctx context.Context, groupID, taskID string) error {
	doc := e.store.Load(ctx)
	g, ok := doc.Groups[groupID]
	if !ok {
		return ErrNotFound
	}
	if !domain.CanEditGroup(doc, groupID, doc.CurrentUserID) {
		e.logger.WithFields(log.Fields{"user": doc.CurrentUserID, "group": groupID}).
			Warn("task deletion denied")
		return ErrDenied
	}

	kept := g.Tasks[:0]
	for _, t := range g.Tasks {
		if t.ID != taskID {
			kept = append(kept, t)
		}
	}
	g.Tasks = kept
	return e.store.Save(ctx, doc)
}

// PostChatMessage appends a message to the group's chat, persists it and then
// signals other contexts on the group's broadcast channel. Any known user may
// post; there is no edit-role gate on chat.
func (e *Engine) PostChatMessage(ctx context.Context, groupID, userID, text string) (*domain.ChatMessage, error) {
	doc := e.store.Load(ctx)
	g, ok := doc.Groups[groupID]
	if !ok {
		return nil, ErrNotFound
	}

	msg := domain.ChatMessage{
		ID:     uuid.NewString(),
		UserID: userID,
		Text:   text,
		Ts:     e.nowMillis(),
	}
	g.Chat = append(g.Chat, msg)
	if err := e.store.Save(ctx, doc); err != nil {
		return nil, err
	}

	if e.pub != nil {
		// Fire-and-forget: the persisted document is the source of truth and
		// other contexts re-read it, so a failed signal is only logged.
		if err := e.pub.Publish(ctx, groupID, msg); err != nil {
			e.logger.WithError(err).WithField("group", groupID).Warn("chat broadcast failed")
		}
	}
	return &msg, nil
}
