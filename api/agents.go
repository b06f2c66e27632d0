package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	model2 "github.com/skiddly/skiddly/api/model"
)

func (a *Api) CreateAgent(c *gin.Context) {
	var req model2.CreateAgent
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid agent", err)
		return
	}
	if err := req.ValidateCreateAgent(); err != nil {
		badRequest(c, "invalid agent", err)
		return
	}

	agent, err := a.skiddly.CreateAgent(c.Request.Context(), req.ToAgent())
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, agent)
}

func (a *Api) GetAgent(c *gin.Context) {
	agent, err := a.skiddly.GetAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

// UpdatePromptSection sets the custom text of one prompt section. An empty text restores
// the section default.
func (a *Api) UpdatePromptSection(c *gin.Context) {
	var req model2.UpdatePromptSection
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid prompt section", err)
		return
	}
	if err := req.ValidateUpdatePromptSection(); err != nil {
		badRequest(c, "invalid prompt section", err)
		return
	}

	agent, err := a.skiddly.UpdatePromptSection(c.Request.Context(), c.Param("id"), c.Param("section"), req.Text)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}
