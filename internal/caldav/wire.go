package caldav

import (
	"encoding/xml"
	"fmt"
	"strings"
)

const (
	nsDAV    = "DAV:"
	nsCalDAV = "urn:ietf:params:xml:ns:caldav"
)

// Request bodies. Marshaled with literal d:/c: prefixes so the payload stays
// byte-comparable with what common CalDAV clients emit.

type calendarQuery struct {
	XMLName xml.Name    `xml:"c:calendar-query"`
	DAV     string      `xml:"xmlns:d,attr"`
	CalDAV  string      `xml:"xmlns:c,attr"`
	Prop    requestProp `xml:"d:prop"`
	Filter  queryFilter `xml:"c:filter"`
}

type calendarMultiget struct {
	XMLName xml.Name    `xml:"c:calendar-multiget"`
	DAV     string      `xml:"xmlns:d,attr"`
	CalDAV  string      `xml:"xmlns:c,attr"`
	Prop    requestProp `xml:"d:prop"`
	Hrefs   []string    `xml:"d:href"`
}

type requestProp struct {
	GetETag      *struct{} `xml:"d:getetag,omitempty"`
	CalendarData *struct{} `xml:"c:calendar-data,omitempty"`
}

type queryFilter struct {
	CompFilter compFilter `xml:"c:comp-filter"`
}

type compFilter struct {
	Name       string      `xml:"name,attr"`
	PropFilter *propFilter `xml:"c:prop-filter,omitempty"`
}

type propFilter struct {
	Name      string    `xml:"name,attr"`
	TextMatch textMatch `xml:"c:text-match"`
}

type textMatch struct {
	Collation string `xml:"collation,attr"`
	Value     string `xml:",chardata"`
}

func newCalendarQuery(uid string) *calendarQuery {
	q := &calendarQuery{
		DAV:    nsDAV,
		CalDAV: nsCalDAV,
		Prop:   requestProp{GetETag: &struct{}{}},
		Filter: queryFilter{CompFilter: compFilter{Name: "VCALENDAR"}},
	}
	if uid != "" {
		q.Filter.CompFilter.PropFilter = &propFilter{
			Name:      "UID",
			TextMatch: textMatch{Collation: "i;octet", Value: uid},
		}
	}
	return q
}

func newCalendarMultiget(hrefs []string) *calendarMultiget {
	return &calendarMultiget{
		DAV:    nsDAV,
		CalDAV: nsCalDAV,
		Prop:   requestProp{GetETag: &struct{}{}, CalendarData: &struct{}{}},
		Hrefs:  hrefs,
	}
}

// Response bodies. Decoded namespace-aware, prefixes on the wire don't matter.

type multiStatus struct {
	XMLName   xml.Name     `xml:"DAV: multistatus"`
	Responses []msResponse `xml:"DAV: response"`
}

type msResponse struct {
	Href     string       `xml:"DAV: href"`
	Propstat []msPropstat `xml:"DAV: propstat"`
}

type msPropstat struct {
	Status string `xml:"DAV: status"`
	Prop   msProp `xml:"DAV: prop"`
}

type msProp struct {
	GetETag      string `xml:"DAV: getetag"`
	CalendarData string `xml:"urn:ietf:params:xml:ns:caldav calendar-data"`
}

func (r *msResponse) etag() string {
	for _, ps := range r.Propstat {
		if ps.Prop.GetETag != "" {
			return trimETag(ps.Prop.GetETag)
		}
	}
	return ""
}

func (r *msResponse) calendarData() string {
	for _, ps := range r.Propstat {
		if ps.Prop.CalendarData != "" {
			return ps.Prop.CalendarData
		}
	}
	return ""
}

func trimETag(etag string) string {
	return strings.Trim(strings.TrimSpace(etag), `"`)
}

// parseIndex extracts the {etag: href} mapping from a calendar-query report.
// An empty body is a valid empty collection.
func parseIndex(body []byte, verbose bool) (map[string]string, error) {
	if len(body) == 0 {
		return map[string]string{}, nil
	}

	var ms multiStatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, &ProtocolError{Op: "calendar-query", Reason: fmt.Sprintf("malformed multistatus response: %v", err), Fragment: fragment(body, verbose)}
	}

	index := make(map[string]string, len(ms.Responses))
	for _, r := range ms.Responses {
		etag := r.etag()
		if etag == "" {
			return nil, &ProtocolError{Op: "calendar-query", Reason: "missing etag", Fragment: fragment(body, verbose)}
		}
		if r.Href == "" {
			return nil, &ProtocolError{Op: "calendar-query", Reason: "missing href", Fragment: fragment(body, verbose)}
		}
		index[etag] = r.Href
	}
	return index, nil
}

// parseObjects extracts the fetched objects from a calendar-multiget report.
func parseObjects(body []byte, verbose bool) ([]Object, error) {
	var ms multiStatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, &ProtocolError{Op: "calendar-multiget", Reason: fmt.Sprintf("malformed multistatus response: %v", err), Fragment: fragment(body, verbose)}
	}

	objects := make([]Object, 0, len(ms.Responses))
	for _, r := range ms.Responses {
		etag := r.etag()
		if etag == "" {
			return nil, &ProtocolError{Op: "calendar-multiget", Reason: "missing etag", Fragment: fragment(body, verbose)}
		}
		data := r.calendarData()
		if data == "" {
			return nil, &ProtocolError{Op: "calendar-multiget", Reason: "missing calendar data", Fragment: fragment(body, verbose)}
		}
		objects = append(objects, Object{
			ETag: etag,
			Href: r.Href,
			Data: []byte(data),
		})
	}
	return objects, nil
}

func fragment(body []byte, verbose bool) string {
	if !verbose {
		return ""
	}
	return string(body)
}
