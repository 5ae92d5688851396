// Package rpc exposes the coordinator over an authenticated JSON-RPC 2.0
// endpoint. The daemon's operator tooling is the only intended client.
package rpc

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/portalswap/portal/pkg/coordinator"
	"github.com/portalswap/portal/pkg/store"
)

// RPC serves coordinator methods over JSON-RPC 2.0.
type RPC interface {
	AddMethod(method Method)
	HandleJSONRPC(ctx *gin.Context)
	Run(addr string) error
}

// CoreConfig is handed to every method handler.
type CoreConfig struct {
	Coordinator *coordinator.Coordinator
	Storage     store.Store
	Logger      *zap.Logger
}

// Method is a single JSON-RPC method implementation.
type Method interface {
	Name() string
	Query(cfg CoreConfig, params json.RawMessage) (json.RawMessage, error)
}

type rpc struct {
	methods    map[string]Method
	coreConfig CoreConfig
	authsha    [sha256.Size]byte
}

// Request defines a JSON-RPC 2.0 request object.
type Request struct {
	Version string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response defines a JSON-RPC 2.0 response object.
type Response struct {
	Version string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error defines a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

// Error codes
const (
	ErrorCodeParseError        = -32700
	ErrorMessageParseError     = "Parse error"
	ErrorCodeInvalidRequest    = -32600
	ErrorMessageInvalidRequest = "Invalid Request"
	ErrorCodeMethodNotFound    = -32601
	ErrorMessageMethodNotFound = "Method not found"
	ErrorCodeInvalidParams     = -32602
	ErrorMessageInvalidParams  = "Invalid params"
	ErrorCodeInternalError     = -32603
	ErrorMessageInternalError  = "Internal error"
)

func NewResponse(id interface{}, result json.RawMessage, err *Error) Response {
	return Response{
		Version: "2.0",
		ID:      id,
		Result:  result,
		Error:   err,
	}
}

func NewError(code int, message string, data string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// NewRpcServer returns a server with the standard method set registered.
// Credentials are mandatory; the endpoint moves funds.
func NewRpcServer(coord *coordinator.Coordinator, storage store.Store, user, pass string, logger *zap.Logger) (RPC, error) {
	if user == "" || pass == "" {
		return nil, errors.New("rpc username and password must be specified")
	}

	login := user + ":" + pass
	auth := "Basic " + base64.StdEncoding.EncodeToString([]byte(login))

	server := &rpc{
		methods: make(map[string]Method),
		authsha: sha256.Sum256([]byte(auth)),
		coreConfig: CoreConfig{
			Coordinator: coord,
			Storage:     storage,
			Logger:      logger,
		},
	}
	server.AddMethod(CreateSession())
	server.AddMethod(ExecuteSession())
	server.AddMethod(AbortSession())
	server.AddMethod(SessionStatus())
	server.AddMethod(ListSessions())
	return server, nil
}

func (r *rpc) AddMethod(method Method) {
	r.methods[method.Name()] = method
}

func (r *rpc) HandleJSONRPC(ctx *gin.Context) {
	req := Request{}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, NewResponse(req.ID, nil, NewError(ErrorCodeParseError, ErrorMessageParseError, err.Error())))
		return
	}

	method, ok := r.methods[req.Method]
	if !ok {
		ctx.JSON(http.StatusNotFound, NewResponse(req.ID, nil, NewError(ErrorCodeMethodNotFound, ErrorMessageMethodNotFound, "")))
		return
	}

	result, err := method.Query(r.coreConfig, req.Params)
	if err != nil {
		r.coreConfig.Logger.Error("rpc method failed",
			zap.String("method", req.Method),
			zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, NewResponse(req.ID, nil, NewError(ErrorCodeInternalError, ErrorMessageInternalError, err.Error())))
		return
	}

	ctx.JSON(http.StatusOK, NewResponse(req.ID, result, nil))
}

func (r *rpc) authenticateUser(ctx *gin.Context) {
	authhdr := ctx.GetHeader("Authorization")
	if len(authhdr) == 0 {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized Invalid credentials"})
		return
	}
	authsha := sha256.Sum256([]byte(authhdr))
	cmp := subtle.ConstantTimeCompare(authsha[:], r.authsha[:])
	if cmp != 1 {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized Invalid credentials"})
		return
	}
}

func (r *rpc) Run(addr string) error {
	s := gin.Default()
	s.Use(cors.Default())

	authRoutes := s.Group("/")
	authRoutes.Use(r.authenticateUser)
	authRoutes.POST("/", r.HandleJSONRPC)
	return s.Run(addr)
}
