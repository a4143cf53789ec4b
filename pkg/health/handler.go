package health

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/labstack/echo/v4"

	echofx "github.com/storacha/deal-ingester/pkg/fx/echo"
)

var log = logging.Logger("health")

// NDJSONContentType is the media type of the streamed output file.
const NDJSONContentType = "application/x-ndjson"

var _ echofx.RouteRegistrar = (*Handler)(nil)

// Handler serves the pipeline status and the tasks written so far.
type Handler struct {
	checker *Checker
	output  string
}

// NewHandler creates a handler streaming the tasks file at output.
func NewHandler(checker *Checker, output string) *Handler {
	return &Handler{checker: checker, output: output}
}

// RegisterRoutes implements echofx.RouteRegistrar
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.Any("/*", h.Output)
}

// Health handles the /health endpoint
func (h *Handler) Health(c echo.Context) error {
	return c.String(http.StatusOK, string(h.checker.Status()))
}

// Output streams the current contents of the tasks file.
func (h *Handler) Output(c echo.Context) error {
	f, err := os.Open(h.output)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return echo.NewHTTPError(http.StatusNotFound, "no tasks written yet")
		}
		return fmt.Errorf("opening tasks file: %w", err)
	}
	defer f.Close()

	log.Debugw("streaming tasks", "path", h.output, "status", h.checker.Status())
	return c.Stream(http.StatusOK, NDJSONContentType, f)
}
