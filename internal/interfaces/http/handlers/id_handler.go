package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/turtacn/admit/internal/infrastructure/idgen"
	"github.com/turtacn/admit/pkg/logger"
)

// IDIssuer mints unique ids.
type IDIssuer interface {
	Next() (idgen.ID, error)
}

// IDResponse describes one unique id and its decoded fields.
type IDResponse struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Worker    uint16    `json:"worker"`
	Sequence  uint16    `json:"sequence"`
}

func newIDResponse(id idgen.ID) IDResponse {
	return IDResponse{
		ID:        id.String(),
		Timestamp: id.Timestamp().UTC(),
		Worker:    id.Worker(),
		Sequence:  id.Sequence(),
	}
}

// IDHandler issues and decodes unique ids.
type IDHandler struct {
	ids    IDIssuer
	logger logger.Logger
}

// NewIDHandler creates an IDHandler.
func NewIDHandler(ids IDIssuer, log logger.Logger) *IDHandler {
	return &IDHandler{ids: ids, logger: log.WithComponent("id_handler")}
}

// NewID issues one id.
// POST /api/v1/ids
func (h *IDHandler) NewID(c *gin.Context) {
	id, err := h.ids.Next()
	if err != nil {
		sendError(c, h.logger, "new_id", err)
		return
	}
	c.JSON(http.StatusCreated, newIDResponse(id))
}

// DecodeID splits an id into its fields.
// GET /api/v1/ids/:id
func (h *IDHandler) DecodeID(c *gin.Context) {
	id, err := idgen.Parse(c.Param("id"))
	if err != nil {
		sendError(c, h.logger, "decode_id", err)
		return
	}
	c.JSON(http.StatusOK, newIDResponse(id))
}
