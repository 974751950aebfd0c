package api

import (
	"net/http"
	"runtime"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/gin-gonic/gin"
	"github.com/lagrangedao/go-tee-worker/build"
	"github.com/lagrangedao/go-tee-worker/internal/chain"
	"github.com/lagrangedao/go-tee-worker/internal/metrics"
	"github.com/lagrangedao/go-tee-worker/internal/models"
	"github.com/lagrangedao/go-tee-worker/util"
)

type Authorizations interface {
	GetAuthorization(chainTaskId string) (*models.WorkerpoolAuthorization, bool)
}

type ExitCauseRecorder interface {
	RecordExitCauses(stage models.ComputeStage, chainTaskId string, causes []models.ReplicateStatusCause) bool
}

type ComputedFileStore interface {
	SaveComputedFile(chainTaskId string, cf *models.ComputedFile) error
}

type TaskLister interface {
	Tasks() []models.TaskSummary
}

// Server is the worker local API. Enclave stages call back into it to report
// exit causes and computed files.
type Server struct {
	authorizations Authorizations
	exitCauses     ExitCauseRecorder
	results        ComputedFileStore
	tasks          TaskLister
}

func NewServer(authorizations Authorizations, exitCauses ExitCauseRecorder, results ComputedFileStore, tasks TaskLister) *Server {
	return &Server{
		authorizations: authorizations,
		exitCauses:     exitCauses,
		results:        results,
		tasks:          tasks,
	}
}

func (s *Server) Register(router gin.IRouter) {
	router.GET("/version", s.Version)
	router.GET("/tasks", s.ListTasks)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	compute := router.Group("/compute")
	compute.POST("/pre/:chainTaskId/exit", s.SendExitCauses(models.PreComputeStage))
	compute.POST("/post/:chainTaskId/exit", s.SendExitCauses(models.PostComputeStage))
	compute.POST("/post/:chainTaskId/computed", s.SendComputedFile)
}

type exitMessage struct {
	Cause  models.ReplicateStatusCause   `json:"cause"`
	Causes []models.ReplicateStatusCause `json:"causes"`
}

func (m exitMessage) all() []models.ReplicateStatusCause {
	if len(m.Causes) > 0 {
		return m.Causes
	}
	if m.Cause != "" {
		return []models.ReplicateStatusCause{m.Cause}
	}
	return nil
}

func (s *Server) SendExitCauses(stage models.ComputeStage) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.recordExitCauses(c, stage)
	}
}

func (s *Server) recordExitCauses(c *gin.Context, stage models.ComputeStage) {
	chainTaskId := c.Param("chainTaskId")
	if !s.isSignedByEnclave(c, chainTaskId) {
		c.JSON(http.StatusUnauthorized, util.CreateErrorResponse(util.UnauthorizedError))
		return
	}

	var msg exitMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, util.CreateErrorResponse(util.JsonError, err.Error()))
		return
	}
	causes := msg.all()
	if len(causes) == 0 {
		c.JSON(http.StatusBadRequest, util.CreateErrorResponse(util.EmptyExitCausesError))
		return
	}

	if !s.exitCauses.RecordExitCauses(stage, chainTaskId, causes) {
		c.JSON(http.StatusConflict, util.CreateErrorResponse(util.AlreadyReportedError))
		return
	}
	c.JSON(http.StatusOK, util.CreateSuccessResponse(causes))
}

func (s *Server) SendComputedFile(c *gin.Context) {
	chainTaskId := c.Param("chainTaskId")
	if !s.isSignedByEnclave(c, chainTaskId) {
		c.JSON(http.StatusUnauthorized, util.CreateErrorResponse(util.UnauthorizedError))
		return
	}

	var cf models.ComputedFile
	if err := c.ShouldBindJSON(&cf); err != nil {
		c.JSON(http.StatusBadRequest, util.CreateErrorResponse(util.JsonError, err.Error()))
		return
	}
	if cf.TaskId == "" {
		cf.TaskId = chainTaskId
	}
	if cf.TaskId != chainTaskId {
		c.JSON(http.StatusBadRequest, util.CreateErrorResponse(util.TaskIdMismatchError))
		return
	}

	if err := s.results.SaveComputedFile(chainTaskId, &cf); err != nil {
		logs.GetLogger().Errorf("Failed save computed file, chainTaskId: %s, error: %+v", chainTaskId, err)
		c.JSON(http.StatusInternalServerError, util.CreateErrorResponse(util.ComputedFileSaveError))
		return
	}
	logs.GetLogger().Infof("Received computed file, chainTaskId: %s", chainTaskId)
	c.JSON(http.StatusOK, util.CreateSuccessResponse(chainTaskId))
}

func (s *Server) ListTasks(c *gin.Context) {
	c.JSON(http.StatusOK, util.CreateSuccessResponse(s.tasks.Tasks()))
}

func (s *Server) Version(c *gin.Context) {
	c.JSON(http.StatusOK, util.CreateSuccessResponse(models.VersionInfo{
		Version:         build.UserVersion(),
		OperatingSystem: runtime.GOOS,
		Architecture:    runtime.GOARCH,
		CPUCores:        runtime.NumCPU(),
	}))
}

// isSignedByEnclave checks the Authorization header against the enclave
// challenge of the task authorization.
func (s *Server) isSignedByEnclave(c *gin.Context, chainTaskId string) bool {
	signature := c.GetHeader("Authorization")
	if signature == "" {
		return false
	}
	auth, ok := s.authorizations.GetAuthorization(chainTaskId)
	if !ok || auth.EnclaveChallenge == "" || auth.EnclaveChallenge == models.ZeroAddress {
		logs.GetLogger().Warnf("No enclave challenge for task, chainTaskId: %s", chainTaskId)
		return false
	}
	return chain.IsSignedBy(chain.AuthorizationHash(auth), signature, auth.EnclaveChallenge)
}
