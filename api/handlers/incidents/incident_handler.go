package incidents

import (
	"errors"

	"rcaflow/internal/auth"
	"rcaflow/internal/common"
	"rcaflow/internal/incident"

	"github.com/gin-gonic/gin"
)

// IncidentHandler 事故管理 Handler
type IncidentHandler struct {
	service *incident.IncidentService
}

// NewIncidentHandler 创建 IncidentHandler 实例
func NewIncidentHandler(service *incident.IncidentService) *IncidentHandler {
	return &IncidentHandler{service: service}
}

// CreateIncident 上报事故
// @Summary 上报事故
// @Tags Incidents
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body incident.CreateIncidentRequest true "事故上报参数"
// @Success 201 {object} incident.Incident
// @Failure 400 {object} common.APIResponse
// @Router /api/incidents [post]
func (h *IncidentHandler) CreateIncident(c *gin.Context) {
	var req incident.CreateIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	actor, ok := auth.GetActor(c)
	if !ok {
		common.ResponseUnauthorized(c, "")
		return
	}

	inc, err := h.service.CreateIncident(c.Request.Context(), &req, actor.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	common.ResponseCreated(c, inc)
}

// GetIncident 查询事故详情
// @Summary 查询事故详情
// @Tags Incidents
// @Security BearerAuth
// @Produce json
// @Param id path string true "事故 ID"
// @Success 200 {object} incident.Incident
// @Failure 404 {object} common.APIResponse
// @Router /api/incidents/{id} [get]
func (h *IncidentHandler) GetIncident(c *gin.Context) {
	inc, err := h.service.GetIncident(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	common.ResponseSuccess(c, inc)
}

// respondError 业务错误走错误码映射，其余按 500 处理
func respondError(c *gin.Context, err error) {
	var biz *common.BusinessError
	if errors.As(err, &biz) {
		common.ResponseBusinessError(c, biz)
		return
	}
	common.ResponseServerError(c, err.Error())
}
