package torznab

import (
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Handlers serves the Torznab API endpoint.
type Handlers struct {
	service *Service
}

// NewHandlers creates Torznab handlers.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers the indexer endpoint. Both paths answer the
// same API; clients differ in which one they assume.
func (h *Handlers) RegisterRoutes(e *echo.Echo) {
	e.GET("/torznab/api", h.Handle)
	e.GET("/api", h.Handle)
}

// Handle dispatches on the t parameter.
func (h *Handlers) Handle(c echo.Context) error {
	if key := h.service.cfg.APIKey; key != "" {
		given := c.QueryParam("apikey")
		if given == "" || subtle.ConstantTimeCompare([]byte(given), []byte(key)) != 1 {
			return c.XML(http.StatusUnauthorized, &ErrorResponse{Code: 100, Description: "Incorrect user credentials"})
		}
	}

	ctx := c.Request().Context()

	switch c.QueryParam("t") {
	case "caps":
		return c.XML(http.StatusOK, h.service.Caps())

	case "search", "movie":
		feed, err := h.service.Search(ctx, c.QueryParam("q"))
		if err != nil {
			return c.XML(http.StatusBadRequest, &ErrorResponse{Code: 201, Description: err.Error()})
		}
		return c.XML(http.StatusOK, feed)

	case "tvsearch":
		params, err := parseTVParams(c)
		if err != nil {
			return c.XML(http.StatusBadRequest, &ErrorResponse{Code: 201, Description: err.Error()})
		}
		feed, err := h.service.TVSearch(ctx, params)
		if err != nil {
			return c.XML(http.StatusBadRequest, &ErrorResponse{Code: 201, Description: err.Error()})
		}
		return c.XML(http.StatusOK, feed)

	default:
		return c.XML(http.StatusBadRequest, &ErrorResponse{Code: 202, Description: "No such function"})
	}
}

func parseTVParams(c echo.Context) (TVParams, error) {
	p := TVParams{
		Query:  c.QueryParam("q"),
		ImdbID: c.QueryParam("imdbid"),
	}

	var err error
	if p.Season, err = optionalInt(c, "season"); err != nil {
		return p, err
	}
	if p.Episode, err = optionalInt(c, "ep"); err != nil {
		return p, err
	}
	p.TvdbID = intOrZero(c, "tvdbid")
	p.TmdbID = intOrZero(c, "tmdbid")
	p.RID = intOrZero(c, "rid")
	p.TvMazeID = intOrZero(c, "tvmazeid")

	return p, nil
}

func optionalInt(c echo.Context, name string) (*int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &n, nil
}

func intOrZero(c echo.Context, name string) int {
	n, err := strconv.Atoi(c.QueryParam(name))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
