// Package persons is a reference REST resource: persons who send each other
// messages.
//
//	GET    /persons[?filters]                 list persons
//	POST   /persons                           create, returns /persons/<n>
//	GET    /persons/<n>                       one person
//	PUT    /persons/<n>                       update fields
//	DELETE /persons/<n>                       delete with all their messages
//	GET    /persons/<n>/messages[?filters]    messages sent or received by n
//	POST   /persons/<n>/messages              send from n, returns the path
//	GET    /persons/<n>/messages/<m>          one message
//	PUT    /persons/<n>/messages/<m>          edit subject or text
//	DELETE /persons/<n>/messages/<m>          delete one message
package persons

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/forestnet/forestnet/internal/rest"
	"github.com/forestnet/forestnet/internal/seed"
)

// Person is one person record.
type Person struct {
	ID     int
	Name   string
	Age    int
	City   string
	Height float64
	Active bool
}

// PersonSchema lists the filterable person fields.
var PersonSchema = rest.Schema{
	"id":     rest.KindInt,
	"name":   rest.KindString,
	"age":    rest.KindInt,
	"city":   rest.KindString,
	"height": rest.KindFloat,
	"active": rest.KindBool,
}

func (p *Person) Field(name string) (rest.Value, bool) {
	switch name {
	case "id":
		return rest.Int(int64(p.ID)), true
	case "name":
		return rest.String(p.Name), true
	case "age":
		return rest.Int(int64(p.Age)), true
	case "city":
		return rest.String(p.City), true
	case "height":
		return rest.Float(p.Height), true
	case "active":
		return rest.Bool(p.Active), true
	}
	return rest.Value{}, false
}

func (p *Person) String() string {
	return fmt.Sprintf("id=%d|name=%s|age=%d|city=%s|height=%s|active=%t",
		p.ID, p.Name, p.Age, p.City, strconv.FormatFloat(p.Height, 'g', -1, 64), p.Active)
}

// Message is one message between two persons.
type Message struct {
	ID      int
	From    int
	To      int
	Subject string
	Text    string
	Sent    time.Time
}

// MessageSchema lists the filterable message fields.
var MessageSchema = rest.Schema{
	"id":      rest.KindInt,
	"from":    rest.KindInt,
	"to":      rest.KindInt,
	"subject": rest.KindString,
	"text":    rest.KindString,
	"sent":    rest.KindTime,
}

func (m *Message) Field(name string) (rest.Value, bool) {
	switch name {
	case "id":
		return rest.Int(int64(m.ID)), true
	case "from":
		return rest.Int(int64(m.From)), true
	case "to":
		return rest.Int(int64(m.To)), true
	case "subject":
		return rest.String(m.Subject), true
	case "text":
		return rest.String(m.Text), true
	case "sent":
		return rest.Time(m.Sent), true
	}
	return rest.Value{}, false
}

func (m *Message) String() string {
	return fmt.Sprintf("id=%d|from=%d|to=%d|subject=%s|text=%s|sent=%s",
		m.ID, m.From, m.To, m.Subject, m.Text, m.Sent.UTC().Format(time.RFC3339))
}

// Handler serves the persons tree from memory.
type Handler struct {
	mu          sync.RWMutex
	persons     map[int]*Person
	messages    map[int]*Message
	nextPerson  int
	nextMessage int
	now         func() time.Time
}

// New returns an empty Handler.
func New() *Handler {
	return &Handler{
		persons:  make(map[int]*Person),
		messages: make(map[int]*Message),
		now:      time.Now,
	}
}

var _ rest.ForestREST = (*Handler)(nil)

// route is a parsed /persons path.
type route struct {
	person   int // 0 when absent
	messages bool
	message  int // 0 when absent
}

func parseRoute(path string) (route, string) {
	segs := rest.Segments(path)
	if len(segs) == 0 || segs[0] != "persons" || len(segs) > 4 {
		return route{}, rest.Errorf(http.StatusNotFound, "no resource at %s", path)
	}
	var r route
	if len(segs) >= 2 {
		id, err := strconv.Atoi(segs[1])
		if err != nil || id <= 0 {
			return route{}, rest.Errorf(http.StatusBadRequest, "invalid person id %q", segs[1])
		}
		r.person = id
	}
	if len(segs) >= 3 {
		if segs[2] != "messages" {
			return route{}, rest.Errorf(http.StatusNotFound, "no resource at %s", path)
		}
		r.messages = true
	}
	if len(segs) == 4 {
		id, err := strconv.Atoi(segs[3])
		if err != nil || id <= 0 {
			return route{}, rest.Errorf(http.StatusBadRequest, "invalid message id %q", segs[3])
		}
		r.message = id
	}
	return r, ""
}

func personPath(id int) string { return "/persons/" + strconv.Itoa(id) }

func messagePath(person, id int) string {
	return personPath(person) + "/messages/" + strconv.Itoa(id)
}

func (h *Handler) HandleGET(s *seed.Seed) string {
	r, errToken := parseRoute(s.RequestHeader.FullPath())
	if errToken != "" {
		return errToken
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	switch {
	case r.person == 0:
		filters, err := rest.ParseFilters(s.RequestHeader.Params, PersonSchema)
		if err != nil {
			return rest.ErrorToken(err)
		}
		return rest.Join(rest.Select(h.sortedPersons(), filters))

	case !r.messages:
		p, ok := h.persons[r.person]
		if !ok {
			return rest.Errorf(http.StatusNotFound, "person %d not found", r.person)
		}
		return p.String()

	case r.message == 0:
		if _, ok := h.persons[r.person]; !ok {
			return rest.Errorf(http.StatusNotFound, "person %d not found", r.person)
		}
		filters, err := rest.ParseFilters(s.RequestHeader.Params, MessageSchema)
		if err != nil {
			return rest.ErrorToken(err)
		}
		return rest.Join(rest.Select(h.messagesOf(r.person), filters))
	}

	m, ok := h.messages[r.message]
	if !ok || (m.From != r.person && m.To != r.person) {
		return rest.Errorf(http.StatusNotFound, "message %d not found", r.message)
	}
	return m.String()
}

func (h *Handler) HandlePOST(s *seed.Seed) string {
	r, errToken := parseRoute(s.RequestHeader.FullPath())
	if errToken != "" {
		return errToken
	}
	fields := s.PostData

	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case r.person == 0:
		if msg := checkFields(fields, []string{"name", "age"}, []string{"id"}); msg != "" {
			return msg
		}
		p := &Person{Active: true}
		if msg := applyPerson(p, fields); msg != "" {
			return msg
		}
		h.nextPerson++
		p.ID = h.nextPerson
		h.persons[p.ID] = p
		return personPath(p.ID)

	case r.messages && r.message == 0:
		if _, ok := h.persons[r.person]; !ok {
			return rest.Errorf(http.StatusNotFound, "person %d not found", r.person)
		}
		if msg := checkFields(fields, []string{"to", "subject"}, []string{"id", "from", "sent"}); msg != "" {
			return msg
		}
		to, err := strconv.Atoi(fields["to"])
		if err != nil {
			return rest.Errorf(http.StatusBadRequest, "to must be a person id")
		}
		if _, ok := h.persons[to]; !ok {
			return rest.Errorf(http.StatusNotFound, "recipient %d not found", to)
		}
		h.nextMessage++
		m := &Message{
			ID:      h.nextMessage,
			From:    r.person,
			To:      to,
			Subject: fields["subject"],
			Text:    fields["text"],
			Sent:    h.now().UTC().Truncate(time.Second),
		}
		h.messages[m.ID] = m
		return messagePath(r.person, m.ID)
	}
	return rest.Errorf(http.StatusMethodNotAllowed, "POST not allowed on %s", s.RequestHeader.FullPath())
}

func (h *Handler) HandlePUT(s *seed.Seed) string {
	r, errToken := parseRoute(s.RequestHeader.FullPath())
	if errToken != "" {
		return errToken
	}
	fields := s.PostData
	if len(fields) == 0 {
		return rest.Errorf(http.StatusBadRequest, "no fields to update")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case r.person != 0 && !r.messages:
		p, ok := h.persons[r.person]
		if !ok {
			return rest.Errorf(http.StatusNotFound, "person %d not found", r.person)
		}
		if msg := checkFields(fields, nil, []string{"id"}); msg != "" {
			return msg
		}
		updated := *p
		if msg := applyPerson(&updated, fields); msg != "" {
			return msg
		}
		*p = updated
		return personPath(p.ID)

	case r.message != 0:
		m, ok := h.messages[r.message]
		if !ok || m.From != r.person {
			return rest.Errorf(http.StatusNotFound, "message %d not found", r.message)
		}
		if msg := checkFields(fields, nil, []string{"id", "from", "to", "sent"}); msg != "" {
			return msg
		}
		updated := *m
		for k, v := range fields {
			switch k {
			case "subject":
				updated.Subject = v
			case "text":
				updated.Text = v
			default:
				return rest.Errorf(http.StatusBadRequest, "unknown field %s", k)
			}
		}
		*m = updated
		return messagePath(r.person, m.ID)
	}
	return rest.Errorf(http.StatusMethodNotAllowed, "PUT not allowed on %s", s.RequestHeader.FullPath())
}

func (h *Handler) HandleDELETE(s *seed.Seed) string {
	r, errToken := parseRoute(s.RequestHeader.FullPath())
	if errToken != "" {
		return errToken
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case r.person != 0 && !r.messages:
		if _, ok := h.persons[r.person]; !ok {
			return rest.Errorf(http.StatusNotFound, "person %d not found", r.person)
		}
		delete(h.persons, r.person)
		for id, m := range h.messages {
			if m.From == r.person || m.To == r.person {
				delete(h.messages, id)
			}
		}
		return personPath(r.person)

	case r.message != 0:
		m, ok := h.messages[r.message]
		if !ok || (m.From != r.person && m.To != r.person) {
			return rest.Errorf(http.StatusNotFound, "message %d not found", r.message)
		}
		delete(h.messages, m.ID)
		return messagePath(r.person, m.ID)
	}
	return rest.Errorf(http.StatusMethodNotAllowed, "DELETE not allowed on %s", s.RequestHeader.FullPath())
}

// Messages returns how many messages are stored.
func (h *Handler) Messages() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

func (h *Handler) sortedPersons() []*Person {
	out := make([]*Person, 0, len(h.persons))
	for _, p := range h.persons {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (h *Handler) messagesOf(person int) []*Message {
	var out []*Message
	for _, m := range h.messages {
		if m.From == person || m.To == person {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// checkFields returns an error token when a required field is missing or
// empty, or a forbidden one is present.
func checkFields(fields map[string]string, required, forbidden []string) string {
	for _, name := range forbidden {
		if _, ok := fields[name]; ok {
			return rest.Errorf(http.StatusBadRequest, "field %s must not be set", name)
		}
	}
	var missing []string
	for _, name := range required {
		if strings.TrimSpace(fields[name]) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return rest.Errorf(http.StatusBadRequest, "missing required field(s) %s", strings.Join(missing, ", "))
	}
	return ""
}

func applyPerson(p *Person, fields map[string]string) string {
	for k, v := range fields {
		kind, ok := PersonSchema[k]
		if !ok || k == "id" {
			return rest.Errorf(http.StatusBadRequest, "unknown field %s", k)
		}
		val, err := rest.ParseValue(kind, v)
		if err != nil {
			return rest.Errorf(http.StatusBadRequest, "field %s: %v", k, err)
		}
		switch k {
		case "name":
			p.Name = v
		case "age":
			p.Age = int(val.Int())
		case "city":
			p.City = v
		case "height":
			p.Height = val.Float()
		case "active":
			p.Active = val.Bool()
		}
	}
	if p.Age < 0 {
		return rest.Errorf(http.StatusBadRequest, "age must not be negative")
	}
	return ""
}
