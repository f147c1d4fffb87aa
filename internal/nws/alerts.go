package nws

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/lox/nwsannounce/internal/htmlutil"
	"github.com/lox/nwsannounce/internal/metrics"
	"github.com/lox/nwsannounce/internal/models"
)

// capPrefix is the namespace prefix NWS uses for CAP elements in the Atom feed.
const capPrefix = "cap"

// FetchAlerts retrieves the active alerts for the location's coordinate.
// Entries missing an id or title are dropped with a warning.
func (c *Client) FetchAlerts(ctx context.Context, loc models.Location) (models.AlertSet, error) {
	u := fmt.Sprintf("%s/alerts/active.atom?point=%s,%s", c.baseURL, formatCoord(loc.Latitude), formatCoord(loc.Longitude))
	body, err := c.get(ctx, "alerts", u, acceptAtom)
	if err != nil {
		return nil, err
	}
	return c.parseAlerts(body)
}

func (c *Client) parseAlerts(body []byte) (models.AlertSet, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, malformed(fmt.Errorf("parse alerts feed: %w", err))
	}

	set := make(models.AlertSet, len(feed.Items))
	for _, item := range feed.Items {
		record, err := alertFromItem(item)
		if err != nil {
			metrics.AlertEntriesDropped.Inc()
			c.logger.Warn("dropping alert entry", "error", err, "title", item.Title)
			continue
		}
		set[record.ID] = record
	}
	return set, nil
}

func alertFromItem(item *gofeed.Item) (models.AlertRecord, error) {
	id := strings.TrimSpace(item.GUID)
	if id == "" {
		id = strings.TrimSpace(item.Link)
	}
	if id == "" {
		return models.AlertRecord{}, missingField("id")
	}
	title := strings.TrimSpace(item.Title)
	if title == "" {
		return models.AlertRecord{}, missingField("title")
	}

	record := models.AlertRecord{
		ID:        id,
		Event:     capValue(item, "event"),
		Severity:  models.ParseSeverity(capValue(item, "severity")),
		Certainty: models.ParseCertainty(capValue(item, "certainty")),
		Urgency:   models.ParseUrgency(capValue(item, "urgency")),
		Headline:  title,
		Summary:   htmlutil.ToText(item.Description),
		Area:      capValue(item, "areaDesc"),
	}

	if record.Event == "" {
		record.Event = eventFromTitle(title)
	}
	if t, ok := capTime(item, "effective"); ok {
		record.Effective = t
	} else if item.PublishedParsed != nil {
		record.Effective = item.PublishedParsed.UTC()
	}
	if t, ok := capTime(item, "expires"); ok {
		record.Expires = t
	}

	return record, nil
}

func capValue(item *gofeed.Item, name string) string {
	if item.Extensions == nil {
		return ""
	}
	values := item.Extensions[capPrefix][name]
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0].Value)
}

func capTime(item *gofeed.Item, name string) (time.Time, bool) {
	v := capValue(item, name)
	if v == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// eventFromTitle takes the text before " issued", which is how NWS titles
// read ("Flood Warning issued June 4 at 3:15PM CDT ...").
func eventFromTitle(title string) string {
	if i := strings.Index(title, " issued "); i > 0 {
		return title[:i]
	}
	return title
}
