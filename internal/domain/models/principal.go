package models

import "github.com/google/uuid"

// Role: роль субъекта, выполняющего запрос
type Role string

const (
	RoleUser   Role = "user"
	RoleAdmin  Role = "admin"
	RoleSystem Role = "system"
)

// Principal: аутентифицированный субъект
type Principal struct {
	UserID uuid.UUID
	Role   Role
}

// SystemPrincipal: полномочия планировщика и вебхуков
var SystemPrincipal = Principal{Role: RoleSystem}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

func (p Principal) IsSystem() bool {
	return p.Role == RoleSystem
}
