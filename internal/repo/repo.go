package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"taskmanager/internal/config"
	"taskmanager/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q returns tx when set so callers can share one helper for both paths.
func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func (r Repo) InsertProductOwner(ctx context.Context, tx *sql.Tx, po domain.ProductOwner) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO product_owners(id,first_name,last_name,email,phone) VALUES (?,?,?,?,?)`,
		po.ID, po.FirstName, po.LastName, nullable(po.Email), nullable(po.Phone))
	return err
}

func (r Repo) getProductOwner(ctx context.Context, tx *sql.Tx, id string) (*domain.ProductOwner, error) {
	var po domain.ProductOwner
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,first_name,last_name,COALESCE(email,''),COALESCE(phone,'') FROM product_owners WHERE id=?`, id).
		Scan(&po.ID, &po.FirstName, &po.LastName, &po.Email, &po.Phone)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &po, nil
}

const projectColumns = `id,name,status,COALESCE(description,''),COALESCE(product_owner_id,''),created_at`

func scanProject(row interface{ Scan(...any) error }) (domain.Project, string, error) {
	var p domain.Project
	var ownerID string
	err := row.Scan(&p.ID, &p.Name, &p.Status, &p.Description, &ownerID, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, "", ErrNotFound
	}
	return p, ownerID, err
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	var ownerID string
	if p.ProductOwner != nil {
		ownerID = p.ProductOwner.ID
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO projects(id,name,status,description,product_owner_id,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.Name, p.Status, nullable(p.Description), nullable(ownerID), p.CreatedAt)
	return err
}

// GetProject returns the project with its product owner resolved.
func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return r.getProject(ctx, nil, id)
}

func (r Repo) getProject(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	p, ownerID, err := scanProject(r.q(tx).QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
	if err != nil {
		return p, err
	}
	if ownerID != "" {
		po, err := r.getProductOwner(ctx, tx, ownerID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return p, err
		}
		p.ProductOwner = po
	}
	return p, nil
}

func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	projects, err := r.ListProjects(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	if len(projects) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(projects) > 1 {
		return domain.Project{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return projects[0], nil
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	var owners []string
	for rows.Next() {
		p, ownerID, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
		owners = append(owners, ownerID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()
	for i, ownerID := range owners {
		if ownerID == "" {
			continue
		}
		po, err := r.getProductOwner(ctx, nil, ownerID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		res[i].ProductOwner = po
	}
	return res, nil
}

func (r Repo) UpsertProjectConfig(ctx context.Context, projectID string, cfg *config.Config) error {
	return r.UpsertProjectConfigTx(ctx, nil, projectID, cfg)
}

func (r Repo) UpsertProjectConfigTx(ctx context.Context, tx *sql.Tx, projectID string, cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := cfg.ToYAML()
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO project_configs(project_id,config_yaml,updated_at) VALUES (?,?,?)
		ON CONFLICT(project_id) DO UPDATE SET config_yaml=excluded.config_yaml, updated_at=excluded.updated_at`,
		projectID, string(data), now)
	return err
}

func (r Repo) GetProjectConfig(ctx context.Context, projectID string) (*config.Config, error) {
	var raw string
	err := r.DB.QueryRowContext(ctx, `SELECT config_yaml FROM project_configs WHERE project_id=?`, projectID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return config.FromYAML([]byte(raw))
}

func (r Repo) InsertTeam(ctx context.Context, tx *sql.Tx, t domain.Team) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO teams(id,project_id,name,created_at) VALUES (?,?,?,?)`,
		t.ID, t.ProjectID, t.Name, t.CreatedAt)
	return err
}

func (r Repo) GetTeam(ctx context.Context, id string) (domain.Team, error) {
	var t domain.Team
	err := r.DB.QueryRowContext(ctx, `SELECT id,project_id,name,created_at FROM teams WHERE id=?`, id).
		Scan(&t.ID, &t.ProjectID, &t.Name, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTeams(ctx context.Context, projectID string) ([]domain.Team, error) {
	return r.ListTeamsTx(ctx, nil, projectID)
}

func (r Repo) ListTeamsTx(ctx context.Context, tx *sql.Tx, projectID string) ([]domain.Team, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,project_id,name,created_at FROM teams WHERE project_id=? ORDER BY name, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Team
	for rows.Next() {
		var t domain.Team
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Name, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) InsertSprint(ctx context.Context, tx *sql.Tx, s domain.Sprint) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO sprints(id,project_id,name,start_date,end_date,created_at) VALUES (?,?,?,?,?,?)`,
		s.ID, s.ProjectID, s.Name, nullable(s.StartDate), nullable(s.EndDate), s.CreatedAt)
	return err
}

func (r Repo) GetSprint(ctx context.Context, id string) (domain.Sprint, error) {
	return r.getSprint(ctx, nil, id)
}

func (r Repo) getSprint(ctx context.Context, tx *sql.Tx, id string) (domain.Sprint, error) {
	var s domain.Sprint
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,project_id,name,COALESCE(start_date,''),COALESCE(end_date,''),created_at FROM sprints WHERE id=?`, id).
		Scan(&s.ID, &s.ProjectID, &s.Name, &s.StartDate, &s.EndDate, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) ListSprints(ctx context.Context, projectID string) ([]domain.Sprint, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,name,COALESCE(start_date,''),COALESCE(end_date,''),created_at FROM sprints WHERE project_id=? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Sprint
	for rows.Next() {
		var s domain.Sprint
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.Name, &s.StartDate, &s.EndDate, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
