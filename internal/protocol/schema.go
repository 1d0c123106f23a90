package protocol

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"tutor-chat/internal/models"
)

type schemaRegistry struct {
	once    sync.Once
	initErr error
	frame   *jsonschema.Schema
	events  map[models.EventType]*jsonschema.Schema
}

var schemas schemaRegistry

func initSchemas() error {
	schemas.once.Do(func() {
		frame, err := jsonschema.CompileString("frame", frameSchema)
		if err != nil {
			schemas.initErr = err
			return
		}
		schemas.frame = frame

		events := map[models.EventType]string{
			models.EventJoin:        joinSchema,
			models.EventJoinRoom:    joinRoomSchema,
			models.EventLeaveRoom:   leaveRoomSchema,
			models.EventMessage:     messageSchema,
			models.EventTypingStart: typingSchema,
			models.EventTypingStop:  typingSchema,
		}
		schemas.events = make(map[models.EventType]*jsonschema.Schema, len(events))
		for name, src := range events {
			compiled, err := jsonschema.CompileString("event_"+string(name), src)
			if err != nil {
				schemas.initErr = err
				return
			}
			schemas.events[name] = compiled
		}
	})
	return schemas.initErr
}

func validateFrame(raw []byte) error {
	if err := initSchemas(); err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := schemas.frame.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}

func validateEventData(eventType models.EventType, data json.RawMessage) error {
	schema := schemas.events[eventType]
	if schema == nil {
		return nil
	}
	var payload any = map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, eventType, err)
		}
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, eventType, err)
	}
	return nil
}

const frameSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": { "type": "string", "minLength": 1 },
    "data": {}
  },
  "additionalProperties": true
}`

const joinSchema = `{
  "type": "object",
  "required": ["userId", "userName", "userType"],
  "properties": {
    "userId": { "type": "string", "minLength": 1 },
    "userName": { "type": "string", "minLength": 1 },
    "userType": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const joinRoomSchema = `{
  "type": "object",
  "required": ["conversationId", "userId", "userName"],
  "properties": {
    "conversationId": { "type": "string", "minLength": 1 },
    "userId": { "type": "string", "minLength": 1 },
    "userName": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const leaveRoomSchema = `{
  "type": "object",
  "required": ["conversationId", "userId"],
  "properties": {
    "conversationId": { "type": "string", "minLength": 1 },
    "userId": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const messageSchema = `{
  "type": "object",
  "required": ["conversationId", "message"],
  "properties": {
    "conversationId": { "type": "string", "minLength": 1 },
    "message": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "type": "string", "minLength": 1 }
      },
      "additionalProperties": true
    }
  },
  "additionalProperties": true
}`

const typingSchema = `{
  "type": "object",
  "required": ["conversationId", "userId", "userName"],
  "properties": {
    "conversationId": { "type": "string", "minLength": 1 },
    "userId": { "type": "string", "minLength": 1 },
    "userName": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`
