package model

import (
	"time"
)

// LocalTime 以 "YYYY-MM-DD HH:MM:SS" 格式输出时间，用于导出文件。
type LocalTime time.Time

const timeFormat = "2006-01-02 15:04:05"

func (t LocalTime) String() string {
	return time.Time(t).Format(timeFormat)
}

// MarshalJSON implements the json.Marshaler interface.
func (t LocalTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// ExportedBrick 是导出时每个问题的结构。
type ExportedBrick struct {
	OrderIndex int         `json:"orderIndex"`
	Title      string      `json:"title"`
	Tag        string      `json:"tag"`
	Question   string      `json:"question"`
	Answer     string      `json:"answer"`
	Status     BrickStatus `json:"status"`
	Sources    []string    `json:"sources"`
}

// ProjectExport 是项目导出的完整结构。
type ProjectExport struct {
	ProjectID  string          `json:"projectId"`
	Name       string          `json:"name"`
	ExportedAt LocalTime       `json:"exportedAt"`
	Bricks     []ExportedBrick `json:"bricks"`
}
