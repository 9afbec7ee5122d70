package service

import "errors"

// 业务层的哨兵错误，handler 据此映射 HTTP 状态码。
var (
	ErrEmptyQuery       = errors.New("query is required")
	ErrNameRequired     = errors.New("name is required")
	ErrCorpusNotFound   = errors.New("corpus not found")
	ErrDocumentNotFound = errors.New("document not found")
	ErrProjectNotFound  = errors.New("project not found")
	ErrBrickNotFound    = errors.New("brick not found")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrTextTooShort     = errors.New("could not extract enough text from document")
	ErrNoQuestions      = errors.New("no questions found in document")
	ErrNotReprocessable = errors.New("document original file is not stored, upload it again")
)
