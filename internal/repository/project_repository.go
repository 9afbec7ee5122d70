package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"rfp-smart-go/internal/model"
)

// ProjectRepository 定义了对项目、项目语料关联和问题（brick）的数据操作接口。
type ProjectRepository interface {
	Create(ctx context.Context, project *model.Project) error
	FindByID(ctx context.Context, id string) (*model.Project, error)
	// FindWithBricks 返回项目及按 order_index 排序的全部问题。
	FindWithBricks(ctx context.Context, id string) (*model.Project, error)
	ListByOrg(ctx context.Context, orgID string) ([]model.Project, error)
	UpdateStatus(ctx context.Context, id string, status model.ProjectStatus) error

	LinkCorpus(ctx context.Context, projectID, corpusID string) error
	UnlinkCorpus(ctx context.Context, projectID, corpusID string) error
	LinkedCorpusIDs(ctx context.Context, projectID string) ([]string, error)

	CreateBricks(ctx context.Context, bricks []*model.Brick) error
	MaxOrderIndex(ctx context.Context, projectID string) (int, error)
	FindBrick(ctx context.Context, id string) (*model.Brick, error)
	// UpdateBrick 只更新 columns 中列出的字段。
	UpdateBrick(ctx context.Context, brick *model.Brick, columns ...string) error
}

type projectRepository struct {
	db *gorm.DB
}

// NewProjectRepository 创建一个新的 ProjectRepository 实例。
func NewProjectRepository(db *gorm.DB) ProjectRepository {
	return &projectRepository{db: db}
}

func (r *projectRepository) Create(ctx context.Context, project *model.Project) error {
	return r.db.WithContext(ctx).Create(project).Error
}

func (r *projectRepository) FindByID(ctx context.Context, id string) (*model.Project, error) {
	var p model.Project
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *projectRepository) FindWithBricks(ctx context.Context, id string) (*model.Project, error) {
	var p model.Project
	err := r.db.WithContext(ctx).
		Preload("Bricks", func(db *gorm.DB) *gorm.DB { return db.Order("order_index ASC") }).
		Where("id = ?", id).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *projectRepository) ListByOrg(ctx context.Context, orgID string) ([]model.Project, error) {
	var projects []model.Project
	err := r.db.WithContext(ctx).Where("org_id = ?", orgID).Order("created_at DESC").Find(&projects).Error
	return projects, err
}

func (r *projectRepository) UpdateStatus(ctx context.Context, id string, status model.ProjectStatus) error {
	return r.db.WithContext(ctx).Model(&model.Project{}).Where("id = ?", id).Update("status", status).Error
}

// LinkCorpus 建立关联，重复关联时忽略。
func (r *projectRepository) LinkCorpus(ctx context.Context, projectID, corpusID string) error {
	link := model.ProjectCorpusLink{ProjectID: projectID, CorpusID: corpusID}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error
}

func (r *projectRepository) UnlinkCorpus(ctx context.Context, projectID, corpusID string) error {
	return r.db.WithContext(ctx).
		Where("project_id = ? AND corpus_id = ?", projectID, corpusID).
		Delete(&model.ProjectCorpusLink{}).Error
}

func (r *projectRepository) LinkedCorpusIDs(ctx context.Context, projectID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.ProjectCorpusLink{}).
		Where("project_id = ?", projectID).
		Order("created_at ASC").
		Pluck("corpus_id", &ids).Error
	return ids, err
}

func (r *projectRepository) CreateBricks(ctx context.Context, bricks []*model.Brick) error {
	if len(bricks) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(bricks, 100).Error
}

func (r *projectRepository) MaxOrderIndex(ctx context.Context, projectID string) (int, error) {
	var maxIdx *int
	err := r.db.WithContext(ctx).Model(&model.Brick{}).
		Where("project_id = ?", projectID).
		Select("MAX(order_index)").
		Scan(&maxIdx).Error
	if err != nil || maxIdx == nil {
		return -1, err
	}
	return *maxIdx, nil
}

func (r *projectRepository) FindBrick(ctx context.Context, id string) (*model.Brick, error) {
	var b model.Brick
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *projectRepository) UpdateBrick(ctx context.Context, brick *model.Brick, columns ...string) error {
	res := r.db.WithContext(ctx).Model(brick).Select(columns).Updates(brick)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
