package graph

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Workbook addresses one worksheet of an Excel workbook stored in OneDrive
// or SharePoint.
type Workbook struct {
	DriveID   string
	ItemID    string
	Worksheet string
}

func (w Workbook) worksheetPath() string {
	return fmt.Sprintf("/drives/%s/items/%s/workbook/worksheets/%s",
		url.PathEscape(w.DriveID), url.PathEscape(w.ItemID), url.PathEscape(w.Worksheet))
}

type rangeBody struct {
	Values [][]any `json:"values"`
}

func rangePath(wb Workbook, address string) string {
	return wb.worksheetPath() + fmt.Sprintf("/range(address='%s')", address)
}

// ReadRange returns the cell values at address (A1 notation), row-major.
// Row i of the result is the i-th row of address, blank rows included.
// Cells decode as JSON scalars: string, float64, bool, or nil.
func (c *Client) ReadRange(ctx context.Context, accessToken string, wb Workbook, address string) ([][]any, error) {
	var resp rangeBody
	err := c.do(ctx, accessToken, request{
		method: http.MethodGet,
		path:   rangePath(wb, address),
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

// WriteRange overwrites the cells at address (A1 notation) with values. The
// shape of values must match the address.
func (c *Client) WriteRange(ctx context.Context, accessToken string, wb Workbook, address string, values [][]any) error {
	return c.do(ctx, accessToken, request{
		method: http.MethodPatch,
		path:   rangePath(wb, address),
		body:   rangeBody{Values: values},
	}, nil)
}
