package handler

import "github.com/google/uuid"

func validateUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}
