package domain

// Global and group-scoped role values.
const (
	RoleLeader = "leader"
	RoleOwner  = "owner"
	RoleMember = "member"
)

// Group visibility values.
const (
	VisibilityPrivate = "private"
	VisibilityTeam    = "team"
	VisibilityPublic  = "public"
)

// User is an account known to the document. Role is the global role and is
// empty for plain members.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

// Project belongs to exactly one group, referenced by id from tasks.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Task is a single board item inside a group's task list. Nullable references
// (projectId, assigneeId, dueDate) are modeled as empty strings.
type Task struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	ProjectID   string   `json:"projectId,omitempty"`
	Description string   `json:"description,omitempty"`
	Comments    []string `json:"comments"`
	Labels      []string `json:"labels,omitempty"`
	DueDate     string   `json:"dueDate,omitempty"`
	AssigneeID  string   `json:"assigneeId,omitempty"`
	Status      string   `json:"status"`
	Done        bool     `json:"done"`
}

// ChatMessage is append-only within a group's chat list. Ts is epoch millis.
type ChatMessage struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Text   string `json:"text"`
	Ts     int64  `json:"ts"`
}

// Notification is a user-facing event entry. Ts is epoch millis.
type Notification struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Ts   int64  `json:"ts"`
}

// Group is a collaboration unit holding members, projects, tasks and chat.
// Tasks are ordered newest-first, chat oldest-first.
type Group struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Members    []string          `json:"members"`
	Roles      map[string]string `json:"roles"`
	Visibility string            `json:"visibility"`
	Projects   []Project         `json:"projects"`
	Tasks      []Task            `json:"tasks"`
	Chat       []ChatMessage     `json:"chat"`
}

// FindTask returns a pointer into the group's task list, or nil when the id
// is unknown. Tasks are only ever located by scanning their owning group.
func (g *Group) FindTask(taskID string) *Task {
	for i := range g.Tasks {
		if g.Tasks[i].ID == taskID {
			return &g.Tasks[i]
		}
	}
	return nil
}

// Document is the root aggregate for the whole application state. It is read
// and written as one record; there are no partial updates.
type Document struct {
	Users         map[string]*User  `json:"users"`
	CurrentUserID string            `json:"currentUserId,omitempty"`
	Groups        map[string]*Group `json:"groups"`
	GroupOrder    []string          `json:"groupOrder"`
	Notifications []Notification    `json:"notifications"`
	NotifiedDue   map[string]bool   `json:"notifiedDue,omitempty"`
	Seeded        bool              `json:"seeded,omitempty"`
}

// NewDocument returns the empty document skeleton used when nothing has been
// persisted yet or the persisted record cannot be decoded.
func NewDocument() *Document {
	return &Document{
		Users:         map[string]*User{},
		Groups:        map[string]*Group{},
		GroupOrder:    []string{},
		Notifications: []Notification{},
		NotifiedDue:   map[string]bool{},
	}
}

// Normalize backfills maps that may be nil after decoding an older payload.
func (d *Document) Normalize() {
	if d.Users == nil {
		d.Users = map[string]*User{}
	}
	if d.Groups == nil {
		d.Groups = map[string]*Group{}
	}
	if d.NotifiedDue == nil {
		d.NotifiedDue = map[string]bool{}
	}
	for _, g := range d.Groups {
		if g.Roles == nil {
			g.Roles = map[string]string{}
		}
	}
}
