package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"rfp-smart-go/internal/model"
	"rfp-smart-go/internal/repository"
	"rfp-smart-go/pkg/log"
)

// ProjectInput 是创建项目的参数。
type ProjectInput struct {
	Name     string     `json:"name"`
	Client   *string    `json:"client"`
	Deadline *time.Time `json:"deadline"`
}

// BrickUpdate 描述对问题的局部修改，nil 字段保持不变。
type BrickUpdate struct {
	Title        *string            `json:"title"`
	Tag          *string            `json:"tag"`
	ResponseText *string            `json:"responseText"`
	Status       *model.BrickStatus `json:"status"`
}

// ProjectService 接口定义了项目、项目语料关联与问题的操作。
type ProjectService interface {
	Create(ctx context.Context, orgID, userID string, in ProjectInput) (*model.Project, error)
	List(ctx context.Context, orgID string) ([]model.Project, error)
	Get(ctx context.Context, id string) (*model.Project, error)
	UpdateStatus(ctx context.Context, id string, status model.ProjectStatus) error

	LinkCorpus(ctx context.Context, projectID, corpusID string) error
	UnlinkCorpus(ctx context.Context, projectID, corpusID string) error
	LinkedCorpusIDs(ctx context.Context, projectID string) ([]string, error)

	UpdateBrick(ctx context.Context, brickID string, update BrickUpdate) (*model.Brick, error)
	Export(ctx context.Context, projectID string) (*model.ProjectExport, error)
}

type projectService struct {
	projects   repository.ProjectRepository
	corpora    repository.CorpusRepository
	defaultOrg string
	now        func() time.Time
}

// NewProjectService 创建一个新的 ProjectService 实例。
func NewProjectService(projects repository.ProjectRepository, corpora repository.CorpusRepository, defaultOrg string) ProjectService {
	return &projectService{projects: projects, corpora: corpora, defaultOrg: defaultOrg, now: time.Now}
}

func (s *projectService) Create(ctx context.Context, orgID, userID string, in ProjectInput) (*model.Project, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrNameRequired
	}
	if orgID == "" {
		orgID = s.defaultOrg
	}
	project := &model.Project{
		Name:      name,
		Client:    in.Client,
		Deadline:  in.Deadline,
		Status:    model.ProjectDraft,
		OrgID:     orgID,
		CreatedBy: userID,
	}
	if err := s.projects.Create(ctx, project); err != nil {
		return nil, fmt.Errorf("创建项目失败: %w", err)
	}
	log.Infof("[ProjectService] 项目已创建, id=%s, org=%s", project.ID, orgID)
	return project, nil
}

func (s *projectService) List(ctx context.Context, orgID string) ([]model.Project, error) {
	if orgID == "" {
		orgID = s.defaultOrg
	}
	return s.projects.ListByOrg(ctx, orgID)
}

func (s *projectService) Get(ctx context.Context, id string) (*model.Project, error) {
	project, err := s.projects.FindWithBricks(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrProjectNotFound)
	}
	return project, nil
}

func (s *projectService) UpdateStatus(ctx context.Context, id string, status model.ProjectStatus) error {
	switch status {
	case model.ProjectDraft, model.ProjectInProgress, model.ProjectCompleted:
	default:
		return ErrInvalidStatus
	}
	if _, err := s.projects.FindByID(ctx, id); err != nil {
		return notFound(err, ErrProjectNotFound)
	}
	return s.projects.UpdateStatus(ctx, id, status)
}

func (s *projectService) LinkCorpus(ctx context.Context, projectID, corpusID string) error {
	if _, err := s.projects.FindByID(ctx, projectID); err != nil {
		return notFound(err, ErrProjectNotFound)
	}
	if _, err := s.corpora.FindByID(ctx, corpusID); err != nil {
		return notFound(err, ErrCorpusNotFound)
	}
	return s.projects.LinkCorpus(ctx, projectID, corpusID)
}

func (s *projectService) UnlinkCorpus(ctx context.Context, projectID, corpusID string) error {
	if _, err := s.projects.FindByID(ctx, projectID); err != nil {
		return notFound(err, ErrProjectNotFound)
	}
	return s.projects.UnlinkCorpus(ctx, projectID, corpusID)
}

func (s *projectService) LinkedCorpusIDs(ctx context.Context, projectID string) ([]string, error) {
	if _, err := s.projects.FindByID(ctx, projectID); err != nil {
		return nil, notFound(err, ErrProjectNotFound)
	}
	return s.projects.LinkedCorpusIDs(ctx, projectID)
}

func (s *projectService) UpdateBrick(ctx context.Context, brickID string, update BrickUpdate) (*model.Brick, error) {
	brick, err := s.projects.FindBrick(ctx, brickID)
	if err != nil {
		return nil, notFound(err, ErrBrickNotFound)
	}

	var columns []string
	if update.Title != nil {
		brick.Title = strings.TrimSpace(*update.Title)
		columns = append(columns, "title")
	}
	if update.Tag != nil {
		brick.Tag = strings.TrimSpace(*update.Tag)
		columns = append(columns, "tag")
	}
	if update.ResponseText != nil {
		brick.ResponseText = update.ResponseText
		columns = append(columns, "response_text")
	}
	if update.Status != nil {
		if !update.Status.Valid() {
			return nil, ErrInvalidStatus
		}
		brick.Status = *update.Status
		columns = append(columns, "status")
	}
	if len(columns) == 0 {
		return brick, nil
	}
	if err := s.projects.UpdateBrick(ctx, brick, columns...); err != nil {
		return nil, notFound(err, ErrBrickNotFound)
	}
	return brick, nil
}

func (s *projectService) Export(ctx context.Context, projectID string) (*model.ProjectExport, error) {
	project, err := s.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := &model.ProjectExport{
		ProjectID:  project.ID,
		Name:       project.Name,
		ExportedAt: model.LocalTime(s.now()),
		Bricks:     make([]model.ExportedBrick, 0, len(project.Bricks)),
	}
	for _, b := range project.Bricks {
		sources := b.AISources
		if sources == nil {
			sources = []string{}
		}
		out.Bricks = append(out.Bricks, model.ExportedBrick{
			OrderIndex: b.OrderIndex,
			Title:      b.Title,
			Tag:        b.Tag,
			Question:   b.OriginalText,
			Answer:     b.FinalText(),
			Status:     b.Status,
			Sources:    sources,
		})
	}
	return out, nil
}

// ExportMarkdown 把导出结果渲染为 Markdown，HTML 格式的回答转换为 Markdown。
func ExportMarkdown(export *model.ProjectExport) string {
	converter := md.NewConverter("", true, nil)

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n_Exporté le %s_\n", export.Name, export.ExportedAt)
	for i, b := range export.Bricks {
		title := b.Title
		if title == "" {
			title = fmt.Sprintf("Question %d", i+1)
		}
		fmt.Fprintf(&sb, "\n## %d. %s\n\n", i+1, title)
		if b.Tag != "" {
			fmt.Fprintf(&sb, "`%s` · %s\n\n", b.Tag, b.Status)
		}
		fmt.Fprintf(&sb, "> %s\n\n", strings.ReplaceAll(strings.TrimSpace(b.Question), "\n", "\n> "))

		answer := strings.TrimSpace(b.Answer)
		if strings.Contains(answer, "<") {
			if converted, err := converter.ConvertString(answer); err == nil {
				answer = converted
			}
		}
		if answer == "" {
			answer = "_(pas encore de réponse)_"
		}
		sb.WriteString(answer)
		sb.WriteString("\n")
		if len(b.Sources) > 0 {
			fmt.Fprintf(&sb, "\nSources : %s\n", strings.Join(b.Sources, ", "))
		}
	}
	return sb.String()
}
