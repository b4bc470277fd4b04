package restapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sharedcode/rop"
	"github.com/sharedcode/rop/query"
	"github.com/sharedcode/rop/transaction"
)

// managerAPI surfaces one transaction manager over REST. Mutating endpoints run inside
// a transaction each, so a failing call is compensated before the error is returned.
type managerAPI struct {
	mgr *transaction.Manager
}

// RegisterManager registers the manager's REST methods: observability endpoints and a
// transactional CRUD proxy for remote models. Call it once before NewRouter/Main.
func RegisterManager(mgr *transaction.Manager) error {
	api := &managerAPI{mgr: mgr}
	methods := []RestMethod{
		{Verb: GET, Path: "/stats", Handler: api.GetStats},
		{Verb: GET, Path: "/transactions", Handler: api.GetTransactions},
		{Verb: GET, Path: "/models/:model", Handler: api.SearchRecords},
		{Verb: GET_ONE, Path: "/models/:model/:id", Handler: api.GetRecord},
		{Verb: POST, Path: "/models/:model", Handler: api.CreateRecord},
		{Verb: PUT, Path: "/models/:model", Handler: api.WriteRecords},
		{Verb: DELETE, Path: "/models/:model", Handler: api.DeleteRecords},
	}
	for _, m := range methods {
		if err := Register(m); err != nil {
			return err
		}
	}
	return nil
}

// GetStats godoc
// @Summary GetStats returns the manager's transaction counters
// @Schemes
// @Description GetStats responds with the active/committed/rolled back transaction counts as JSON.
// @Tags Transactions
// @Accept json
// @Produce json
// @Success 200 {object} transaction.Stats
// @Router /stats [get]
// @Security Bearer
func (api *managerAPI) GetStats(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, api.mgr.Stats())
}

// transactionSummary is the REST shape of one active transaction.
type transactionSummary struct {
	ID         string `json:"id"`
	State      string `json:"state"`
	Began      string `json:"began"`
	Operations int    `json:"operations"`
	ParentID   string `json:"parent_id,omitempty"`
}

// GetTransactions godoc
// @Summary GetTransactions returns the active transactions
// @Schemes
// @Description GetTransactions responds with a summary of every active transaction as JSON.
// @Tags Transactions
// @Accept json
// @Produce json
// @Success 200 {object} []transactionSummary
// @Router /transactions [get]
// @Security Bearer
func (api *managerAPI) GetTransactions(c *gin.Context) {
	active := api.mgr.Registry().Active()
	summaries := make([]transactionSummary, 0, len(active))
	for _, t := range active {
		s := transactionSummary{
			ID:         t.ID().String(),
			State:      t.State().String(),
			Began:      t.Began().Format("2006-01-02T15:04:05Z07:00"),
			Operations: len(t.Operations()),
		}
		if t.Parent() != nil {
			s.ParentID = t.Parent().ID().String()
		}
		summaries = append(summaries, s)
	}
	c.IndentedJSON(http.StatusOK, summaries)
}

// SearchRecords godoc
// @Summary SearchRecords lists records of a model matching a filter
// @Schemes
// @Description SearchRecords responds with the records whose fields equal the given query params, e.g. ?city=Rome&fields=name&limit=10. Reserved params: fields, limit, offset, order.
// @Tags Models
// @Accept json
// @Produce json
// @Failure 400 {object} map[string]any
// @Success 200 {object} []map[string]any
// @Router /models/{model} [get]
// @Security Bearer
func (api *managerAPI) SearchRecords(c *gin.Context) {
	var opts rop.SearchOptions
	var fields []string
	var conditions []query.Domain
	for k, vs := range c.Request.URL.Query() {
		if len(vs) == 0 {
			continue
		}
		switch k {
		case "fields":
			fields = strings.Split(vs[0], ",")
		case "limit":
			n, err := strconv.Atoi(vs[0])
			if err != nil {
				c.IndentedJSON(http.StatusBadRequest, gin.H{"message": "limit must be an integer"})
				return
			}
			opts.Limit = n
		case "offset":
			n, err := strconv.Atoi(vs[0])
			if err != nil {
				c.IndentedJSON(http.StatusBadRequest, gin.H{"message": "offset must be an integer"})
				return
			}
			opts.Offset = n
		case "order":
			opts.Order = vs[0]
		default:
			for _, v := range vs {
				conditions = append(conditions, query.Eq(k, v))
			}
		}
	}
	recs, err := api.mgr.Client().SearchRead(c.Request.Context(), c.Param("model"), query.And(conditions...), fields, opts)
	if err != nil {
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}
	c.IndentedJSON(http.StatusOK, recs)
}

// GetRecord godoc
// @Summary GetRecord fetches one record of a model
// @Schemes
// @Description GetRecord responds with the record's fields as JSON. Use the fields query param to project, e.g. ?fields=name,city.
// @Tags Models
// @Accept json
// @Produce json
// @Failure 400 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Success 200 {object} map[string]any
// @Router /models/{model}/{id} [get]
// @Security Bearer
func (api *managerAPI) GetRecord(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": "id must be an integer"})
		return
	}
	var fields []string
	if f := c.Query("fields"); f != "" {
		fields = strings.Split(f, ",")
	}
	recs, err := api.mgr.Client().Read(c.Request.Context(), c.Param("model"), []int64{id}, fields)
	if err != nil {
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}
	if len(recs) == 0 {
		c.IndentedJSON(http.StatusNotFound, gin.H{"message": "record not found"})
		return
	}
	c.IndentedJSON(http.StatusOK, recs[0])
}

// CreateRecord godoc
// @Summary CreateRecord inserts one record of a model
// @Schemes
// @Description CreateRecord inserts the JSON body as a new record, inside its own transaction, and responds with the new ID.
// @Tags Models
// @Accept json
// @Produce json
// @Failure 400 {object} map[string]any
// @Failure 422 {object} map[string]any
// @Success 201 {object} map[string]any
// @Router /models/{model} [post]
// @Security Bearer
func (api *managerAPI) CreateRecord(c *gin.Context) {
	var data rop.Record
	if err := c.BindJSON(&data); err != nil {
		return
	}
	var id int64
	err := api.mgr.Atomic(c.Request.Context(), func(ctx context.Context, client rop.Client) error {
		var cerr error
		id, cerr = client.Create(ctx, c.Param("model"), data)
		return cerr
	})
	if err != nil {
		c.IndentedJSON(statusOf(err), gin.H{"message": err.Error()})
		return
	}
	c.IndentedJSON(http.StatusCreated, gin.H{"id": id})
}

// writePayload is the body of PUT and DELETE model endpoints.
type writePayload struct {
	IDs  []int64    `json:"ids" binding:"required"`
	Data rop.Record `json:"data"`
}

// WriteRecords godoc
// @Summary WriteRecords updates records of a model
// @Schemes
// @Description WriteRecords writes body.data onto body.ids, inside its own transaction.
// @Tags Models
// @Accept json
// @Produce json
// @Failure 400 {object} map[string]any
// @Failure 422 {object} map[string]any
// @Success 200 {object} map[string]any
// @Router /models/{model} [put]
// @Security Bearer
func (api *managerAPI) WriteRecords(c *gin.Context) {
	var payload writePayload
	if err := c.BindJSON(&payload); err != nil {
		return
	}
	err := api.mgr.Atomic(c.Request.Context(), func(ctx context.Context, client rop.Client) error {
		return client.Write(ctx, c.Param("model"), payload.IDs, payload.Data)
	})
	if err != nil {
		c.IndentedJSON(statusOf(err), gin.H{"message": err.Error()})
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"updated": len(payload.IDs)})
}

// DeleteRecords godoc
// @Summary DeleteRecords removes records of a model
// @Schemes
// @Description DeleteRecords deletes body.ids, inside its own transaction.
// @Tags Models
// @Accept json
// @Produce json
// @Failure 400 {object} map[string]any
// @Failure 422 {object} map[string]any
// @Success 200 {object} map[string]any
// @Router /models/{model} [delete]
// @Security Bearer
func (api *managerAPI) DeleteRecords(c *gin.Context) {
	var payload writePayload
	if err := c.BindJSON(&payload); err != nil {
		return
	}
	err := api.mgr.Atomic(c.Request.Context(), func(ctx context.Context, client rop.Client) error {
		return client.Delete(ctx, c.Param("model"), payload.IDs)
	})
	if err != nil {
		c.IndentedJSON(statusOf(err), gin.H{"message": err.Error()})
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"deleted": len(payload.IDs)})
}

// statusOf maps a failed transactional call to an HTTP status.
func statusOf(err error) int {
	var e rop.Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Code {
	case rop.ValidationFailure:
		return http.StatusUnprocessableEntity
	case rop.AccessDenied:
		return http.StatusForbidden
	case rop.DeadlockDetected, rop.LockAcquisitionFailure:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
