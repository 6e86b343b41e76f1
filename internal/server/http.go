package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/robosync/refsync/internal/identity"
	"github.com/robosync/refsync/internal/lww"
	"github.com/robosync/refsync/internal/membership"
	"github.com/robosync/refsync/internal/model"
	"github.com/robosync/refsync/internal/rpcerr"
)

// Server wires a Registry and Directory to the §6.2 HTTP surface and the
// §6.3 websocket endpoint.
type Server struct {
	Registry  *Registry
	Directory *Directory
	logger    *zap.SugaredLogger
	skew      time.Duration
	limiters  *limiterSet
}

// NewServer builds a Server. rps/burst configure the per-session rate
// limiter that guards against a misbehaving or runaway client.
func NewServer(registry *Registry, directory *Directory, logger *zap.SugaredLogger, skew time.Duration, rps float64, burst int) *Server {
	return &Server{
		Registry:  registry,
		Directory: directory,
		logger:    logger,
		skew:      skew,
		limiters:  newLimiterSet(rps, burst),
	}
}

// Router builds the gin.Engine exposing the mutation, membership, and
// snapshot endpoints.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// /join carries its signature in the query string and handleJoin
	// verifies it, so it sits outside the header-signature middleware.
	r.GET("/api/:sku/join", s.handleJoin)

	api := r.Group("/api")
	api.Use(signatureMiddleware(s.skew, s.limiters))

	api.POST("/user", s.handleSetUser)
	api.POST("/:sku/create", s.handleCreateInstance)
	api.GET("/:sku/invitation", s.handleGetInvitation)
	api.PUT("/:sku/accept", s.handleAccept)
	api.PUT("/:sku/invite", s.handleInvite)
	api.DELETE("/:sku/invite", s.handleRevoke)
	api.PUT("/:sku/request", s.handleRequestCode)
	api.GET("/:sku/request", s.handleResolveCode)
	api.PUT("/:sku/incident", s.handleAddIncident)
	api.PATCH("/:sku/incident", s.handleEditIncident)
	api.DELETE("/:sku/incident", s.handleDeleteIncident)
	api.PATCH("/:sku/scratchpad", s.handleUpdateScratchpad)
	api.GET("/:sku/get", s.handleGetSnapshot)
	api.GET("/:sku/csv", s.handleCSV)
	api.GET("/:sku/json", s.handleJSON)

	return r
}

func ok(c *gin.Context, data any) { c.JSON(http.StatusOK, rpcerr.OK(data)) }

func fail(c *gin.Context, err error) { c.JSON(rpcerr.Status(err), rpcerr.Fail(err)) }

func (s *Server) instance(c *gin.Context) (*Instance, bool) {
	sku := c.Param("sku")
	inst, found := s.Registry.Get(sku)
	if !found {
		fail(c, rpcerr.New(rpcerr.ReasonBadRequest, "unknown instance"))
		return nil, false
	}
	return inst, true
}

func (s *Server) sender(c *gin.Context, inst *Instance) Sender {
	peer := peerFromContext(c)
	return Sender{Type: SenderClient, ID: peer, Name: s.Directory.Name(peer)}
}

func requireAdmitted(c *gin.Context, inst *Instance) bool {
	if !inst.Membership.IsAdmitted(peerFromContext(c)) {
		fail(c, rpcerr.New(rpcerr.ReasonForbidden, "not admitted to this instance"))
		return false
	}
	return true
}

func (s *Server) handleSetUser(c *gin.Context) {
	var body struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, rpcerr.Wrap(rpcerr.ReasonBadRequest, err, "invalid body"))
		return
	}
	if err := s.Directory.SetName(peerFromContext(c), body.Name); err != nil {
		fail(c, rpcerr.Wrap(rpcerr.ReasonServerError, err, "persist display name"))
		return
	}
	ok(c, gin.H{"id": peerFromContext(c), "name": body.Name})
}

func (s *Server) handleCreateInstance(c *gin.Context) {
	peer := peerFromContext(c)
	inst, self, err := s.Registry.Create(c.Param("sku"), peer)
	if err != nil {
		fail(c, rpcerr.New(rpcerr.ReasonBadRequest, "instance already exists"))
		return
	}
	ok(c, invitationView(self))
	_ = inst
}

func (s *Server) handleGetInvitation(c *gin.Context) {
	inst, found := s.instance(c)
	if !found {
		return
	}
	inv := inst.Membership.InvitationFor(peerFromContext(c))
	if inv == nil {
		ok(c, nil)
		return
	}
	ok(c, invitationView(inv))
}

func (s *Server) handleAccept(c *gin.Context) {
	inst, found := s.instance(c)
	if !found {
		return
	}
	inv, err := inst.Membership.Accept(peerFromContext(c), c.Query("invitation"))
	if err != nil {
		fail(c, membershipErr(err))
		return
	}
	ok(c, invitationView(inv))
}

func (s *Server) handleInvite(c *gin.Context) {
	inst, found := s.instance(c)
	if !found {
		return
	}
	target := identity.PeerId(c.Query("user"))
	inv, err := inst.Membership.Invite(peerFromContext(c), target, c.Query("admin") == "true")
	if err != nil {
		fail(c, membershipErr(err))
		return
	}
	ok(c, invitationView(inv))
}

func (s *Server) handleRevoke(c *gin.Context) {
	inst, found := s.instance(c)
	if !found {
		return
	}
	target := identity.PeerId(c.Query("user"))
	if err := inst.Membership.Remove(peerFromContext(c), target); err != nil {
		fail(c, membershipErr(err))
		return
	}
	inst.Revoke(target)
	ok(c, gin.H{"user": target})
}

func (s *Server) handleRequestCode(c *gin.Context) {
	inst, found := s.instance(c)
	if !found {
		return
	}
	code := inst.Membership.RequestCode(peerFromContext(c), time.Now())
	ok(c, gin.H{"code": code})
}

func (s *Server) handleResolveCode(c *gin.Context) {
	inst, found := s.instance(c)
	if !found {
		return
	}
	peer, err := inst.Membership.ResolveCode(c.Query("code"), time.Now())
	if err != nil {
		fail(c, rpcerr.Wrap(rpcerr.ReasonIncorrectCode, err, "code not recognized"))
		return
	}
	ok(c, gin.H{"id": peer})
}

func (s *Server) handleAddIncident(c *gin.Context) {
	inst, found := s.instance(c)
	if !found || !requireAdmitted(c, inst) {
		return
	}
	var incoming lww.Envelope[model.Incident]
	if err := c.ShouldBindJSON(&incoming); err != nil {
		fail(c, rpcerr.Wrap(rpcerr.ReasonBadRequest, err, "invalid envelope body"))
		return
	}
	_, err := inst.AddIncident(s.sender(c, inst), &incoming)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, incoming.Value)
}

func (s *Server) handleEditIncident(c *gin.Context) {
	inst, found := s.instance(c)
	if !found || !requireAdmitted(c, inst) {
		return
	}
	var incoming lww.Envelope[model.Incident]
	if err := c.ShouldBindJSON(&incoming); err != nil {
		fail(c, rpcerr.Wrap(rpcerr.ReasonBadRequest, err, "invalid envelope body"))
		return
	}
	_, err := inst.EditIncident(s.sender(c, inst), &incoming)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, incoming.Value)
}

func (s *Server) handleDeleteIncident(c *gin.Context) {
	inst, found := s.instance(c)
	if !found || !requireAdmitted(c, inst) {
		return
	}
	id := c.Query("id")
	if _, err := inst.DeleteIncident(s.sender(c, inst), id); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"id": id})
}

func (s *Server) handleUpdateScratchpad(c *gin.Context) {
	inst, found := s.instance(c)
	if !found || !requireAdmitted(c, inst) {
		return
	}
	var incoming lww.Envelope[model.Scratchpad]
	if err := c.ShouldBindJSON(&incoming); err != nil {
		fail(c, rpcerr.Wrap(rpcerr.ReasonBadRequest, err, "invalid envelope body"))
		return
	}
	_, err := inst.UpdateScratchpad(s.sender(c, inst), &incoming)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, incoming.Value)
}

func (s *Server) handleGetSnapshot(c *gin.Context) {
	inst, found := s.instance(c)
	if !found || !requireAdmitted(c, inst) {
		return
	}
	frame := inst.Snapshot()
	ok(c, gin.H{
		"activeUsers":        frame.ActiveUsers,
		"invitations":        frame.Invitations,
		"data":               frame.Data,
		"deleted":            frame.Deleted,
		"scratchpads":        frame.Scratchpads,
		"deletedScratchpads": frame.DeletedScratchpads,
	})
}

func (s *Server) handleCSV(c *gin.Context) {
	inst, found := s.instance(c)
	if !found || !requireAdmitted(c, inst) {
		return
	}
	c.Header("Content-Type", "text/csv")
	if err := model.WriteCSV(c.Writer, inst.Incidents()); err != nil {
		fail(c, rpcerr.Wrap(rpcerr.ReasonServerError, err, "write csv"))
	}
}

func (s *Server) handleJSON(c *gin.Context) {
	inst, found := s.instance(c)
	if !found || !requireAdmitted(c, inst) {
		return
	}
	ok(c, inst.Incidents())
}

func invitationView(inv *membership.Invitation) InvitationView {
	return InvitationView{
		ID: inv.ID, SKU: inv.SKU, From: inv.From, To: inv.To,
		Admin: inv.Admin, Accepted: inv.Accepted, InstanceSecret: inv.InstanceSecret,
	}
}

func membershipErr(err error) error {
	switch err {
	case membership.ErrForbidden:
		return rpcerr.Wrap(rpcerr.ReasonForbidden, err, "forbidden")
	case membership.ErrNotFound, membership.ErrAlreadyAccepted:
		return rpcerr.Wrap(rpcerr.ReasonBadRequest, err, err.Error())
	default:
		return rpcerr.Wrap(rpcerr.ReasonServerError, err, "membership error")
	}
}
