package console

import (
	"fmt"
	"strings"

	"listing-automation/browser"
)

// Row is one line of the locations table.
type Row struct {
	Index     int // 1-based position in the table
	ListingID string
	Name      string
	Address   string
	Status    string
	Action    string
}

// ParseRow reads the cell texts of a locations row. The table has shipped
// with the status in either the third or the fourth column.
func ParseRow(index int, cells []string) (Row, bool) {
	if len(cells) < 4 {
		return Row{}, false
	}

	row := Row{
		Index:     index,
		ListingID: cells[1],
		Action:    cells[len(cells)-1],
	}

	nameAddress := cells[2]
	if knownStatus(cells[2]) {
		row.Status = cells[2]
		nameAddress = cells[1]
		row.ListingID = ""
	} else {
		row.Status = cells[3]
	}

	lines := strings.SplitN(nameAddress, "\n", 2)
	row.Name = strings.TrimSpace(lines[0])
	if len(lines) == 2 {
		row.Address = strings.TrimSpace(lines[1])
	}
	if row.Name == "" {
		return Row{}, false
	}
	return row, true
}

// Matches reports whether the row shows any of the non-empty names.
func (r Row) Matches(names ...string) bool {
	for _, name := range names {
		if name != "" && (strings.Contains(r.Name, name) || strings.Contains(r.Address, name)) {
			return true
		}
	}
	return false
}

// Cell locates the element at rel inside the row, e.g. "td[5]//div".
func (r Row) Cell(rel string) browser.Locator {
	return Rows.At(r.Index, rel)
}

// FindRow returns the first row showing one of names.
func FindRow(rows []Row, names ...string) (Row, bool) {
	for _, r := range rows {
		if r.Matches(names...) {
			return r, true
		}
	}
	return Row{}, false
}

// ActionCell locates the row's action control, which opens the
// verification flow.
func (r Row) ActionCell() browser.Locator {
	return browser.Locator{
		Name: fmt.Sprintf("row %d action", r.Index),
		XPaths: append(r.Cell("td[last()]/content/div/div").XPaths,
			r.Cell("td[last()]//div[@role='button']").XPaths...),
	}
}

// NameLink locates the link from the row to the listing dashboard.
func (r Row) NameLink() browser.Locator {
	return browser.Locator{
		Name:   fmt.Sprintf("row %d name link", r.Index),
		XPaths: append(r.Cell("td[2]/content/a").XPaths, r.Cell("td[3]/content/a").XPaths...),
	}
}
