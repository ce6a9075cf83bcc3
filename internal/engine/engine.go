package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"taskmanager/internal/config"
	"taskmanager/internal/domain"
	"taskmanager/internal/events"
	"taskmanager/internal/repo"
)

// ValidationError reports invalid input to an engine operation.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Engine runs the task manager operations. Now is the clock for every stored
// timestamp, event log entries included.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Registry *events.Registry
	Config   *config.Config
	Log      logrus.FieldLogger
	Now      func() time.Time

	validate *validator.Validate
}

func New(db *sql.DB, cfg *config.Config, log logrus.FieldLogger) Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	registry := events.NewRegistry(events.Writer{DB: db})
	registry.Subscribe(countPublished)
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Registry: registry,
		Config:   cfg,
		Log:      log,
		Now:      time.Now,
		validate: validator.New(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// eventLog appends to the event log with the engine's clock.
func (e Engine) eventLog() events.Writer {
	return events.Writer{DB: e.DB, Now: e.now}
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() logrus.FieldLogger {
	if e.Log != nil {
		return e.Log
	}
	return logrus.StandardLogger()
}

func (e Engine) check(v any) error {
	val := e.validate
	if val == nil {
		val = validator.New()
	}
	err := val.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return ValidationError{Field: toSnake(fe.Field()), Message: fmt.Sprintf("failed on '%s' rule", fe.Tag())}
	}
	return err
}

// projectConfig returns the stored project config, then the workspace config, then defaults.
func (e Engine) projectConfig(ctx context.Context, projectID string) (*config.Config, error) {
	cfg, err := e.Repo.GetProjectConfig(ctx, projectID)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if e.Config != nil {
		return e.Config, nil
	}
	return config.Default(projectID), nil
}

// ProjectCreateOptions are parameters for creating a project and its product owner.
type ProjectCreateOptions struct {
	ID             string
	Name           string `validate:"required,max=200"`
	Description    string `validate:"max=2000"`
	OwnerFirstName string `validate:"required_with=OwnerLastName,max=100"`
	OwnerLastName  string `validate:"required_with=OwnerFirstName,max=100"`
	OwnerEmail     string `validate:"omitempty,email"`
	OwnerPhone     string `validate:"max=50"`
	ActorID        string
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	if err := e.check(opts); err != nil {
		return domain.Project{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	p := domain.Project{
		ID:          id,
		Name:        opts.Name,
		Status:      "active",
		Description: opts.Description,
		CreatedAt:   e.stamp(),
	}
	if opts.OwnerFirstName != "" {
		p.ProductOwner = &domain.ProductOwner{
			ID:        uuid.NewString(),
			FirstName: opts.OwnerFirstName,
			LastName:  opts.OwnerLastName,
			Email:     opts.OwnerEmail,
			Phone:     opts.OwnerPhone,
		}
	}
	cfg := config.Default(id)
	if e.Config != nil {
		c := *e.Config
		cfg = &c
	}
	cfg.Project.ID = id
	cfg.Project.Name = opts.Name

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if p.ProductOwner != nil {
		if err := e.Repo.InsertProductOwner(ctx, tx, *p.ProductOwner); err != nil {
			return domain.Project{}, fmt.Errorf("insert product owner: %w", err)
		}
	}
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, cfg); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	if _, err := e.eventLog().Append(ctx, tx, "project.created", p.ID, "project", p.ID, opts.ActorID, events.EventPayload{"name": p.Name}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	e.log().WithFields(logrus.Fields{"project": p.ID, "actor": opts.ActorID}).Info("project created")
	return p, nil
}

type TeamCreateOptions struct {
	ID        string
	ProjectID string `validate:"required"`
	Name      string `validate:"required,max=200"`
	ActorID   string
}

func (e Engine) CreateTeam(ctx context.Context, opts TeamCreateOptions) (domain.Team, error) {
	if err := e.check(opts); err != nil {
		return domain.Team{}, err
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Team{}, err
	}
	t := domain.Team{ID: opts.ID, ProjectID: opts.ProjectID, Name: opts.Name, CreatedAt: e.stamp()}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Team{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTeam(ctx, tx, t); err != nil {
		return domain.Team{}, fmt.Errorf("insert team: %w", err)
	}
	if _, err := e.eventLog().Append(ctx, tx, "team.created", t.ProjectID, "team", t.ID, opts.ActorID, events.EventPayload{"name": t.Name}); err != nil {
		return domain.Team{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Team{}, err
	}
	return t, nil
}

type SprintCreateOptions struct {
	ID        string
	ProjectID string `validate:"required"`
	Name      string `validate:"required,max=200"`
	StartDate string `validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `validate:"omitempty,datetime=2006-01-02"`
	ActorID   string
}

func (e Engine) CreateSprint(ctx context.Context, opts SprintCreateOptions) (domain.Sprint, error) {
	if err := e.check(opts); err != nil {
		return domain.Sprint{}, err
	}
	if opts.StartDate != "" && opts.EndDate != "" && opts.EndDate < opts.StartDate {
		return domain.Sprint{}, ValidationError{Field: "end_date", Message: "must not be before start_date"}
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Sprint{}, err
	}
	s := domain.Sprint{
		ID:        opts.ID,
		ProjectID: opts.ProjectID,
		Name:      opts.Name,
		StartDate: opts.StartDate,
		EndDate:   opts.EndDate,
		CreatedAt: e.stamp(),
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Sprint{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSprint(ctx, tx, s); err != nil {
		return domain.Sprint{}, fmt.Errorf("insert sprint: %w", err)
	}
	if _, err := e.eventLog().Append(ctx, tx, "sprint.created", s.ProjectID, "sprint", s.ID, opts.ActorID, events.EventPayload{"name": s.Name}); err != nil {
		return domain.Sprint{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Sprint{}, err
	}
	return s, nil
}

// Backlog lists a project lane, or a sprint lane when sprintID is set.
func (e Engine) Backlog(ctx context.Context, projectID, sprintID, lane string) ([]domain.BacklogEntry, error) {
	if lane == "" {
		lane = domain.LaneProject
		if sprintID != "" {
			lane = domain.LaneReady
		}
	}
	if lane != domain.LaneProject && lane != domain.LaneReady {
		return nil, ValidationError{Field: "lane", Message: fmt.Sprintf("unknown lane %q", lane)}
	}
	if sprintID != "" && lane == domain.LaneProject {
		return nil, ValidationError{Field: "lane", Message: "sprints only have a ready lane"}
	}
	return e.Repo.ListBacklog(ctx, repo.BacklogKey{ProjectID: projectID, SprintID: sprintID, Lane: lane})
}

func (e Engine) Notifications(ctx context.Context, f repo.NotificationFilters) ([]domain.Notification, error) {
	if f.ProjectID == "" {
		return nil, ValidationError{Field: "project_id", Message: "is required"}
	}
	return e.Repo.ListNotifications(ctx, f)
}

// toSnake maps Go field names to wire names: OwnerEmail -> owner_email, StoryID -> story_id.
func toSnake(s string) string {
	var b strings.Builder
	prevLower := false
	for _, r := range s {
		upper := r >= 'A' && r <= 'Z'
		if upper {
			if prevLower {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
		prevLower = !upper
	}
	return b.String()
}
