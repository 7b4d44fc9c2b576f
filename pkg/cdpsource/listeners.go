package cdpsource

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/arkivar/httprecorder/pkg/capture"
	"github.com/arkivar/httprecorder/pkg/events"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	log "github.com/sirupsen/logrus"
)

func enableActions() []chromedp.Action {
	return []chromedp.Action{
		network.Enable(),
		page.Enable(),
		network.SetCacheDisabled(false),
	}
}

func (s *Source) initListeners() {
	chromedp.ListenTarget(s.ctx, s.listenFunc())
}

func (s *Source) listenFunc() func(ev interface{}) {
	return func(ev interface{}) {
		switch ev := ev.(type) {
		case *network.EventRequestWillBeSent:
			s.onRequestWillBeSent(ev)
		case *network.EventResponseReceived:
			s.onResponseReceived(ev)
		case *network.EventLoadingFinished:
			s.onLoadingFinished(ev)
		case *network.EventLoadingFailed:
			s.onLoadingFailed(ev)
		case *page.EventFrameNavigated:
			s.onFrameNavigated(ev)
		}
	}
}

func (s *Source) onRequestWillBeSent(ev *network.EventRequestWillBeSent) {
	id := ev.RequestID.String()
	log.Tracef("Request will be sent: %v, %v, %v, %v", id, ev.Type, ev.FrameID, ev.DocumentURL)

	timeStamp := time.Now()
	if ev.WallTime != nil {
		timeStamp = ev.WallTime.Time()
	}

	// CDP reuses the request id across a redirect chain; the previous hop
	// surfaces as RedirectResponse on the next request.
	if ev.RedirectResponse != nil {
		s.dispatchBeforeRedirect(&events.BeforeRedirect{
			RequestID:   id,
			URL:         ev.RedirectResponse.URL,
			RedirectURL: ev.Request.URL,
			TimeStamp:   timeStamp,
			StatusCode:  int(ev.RedirectResponse.Status),
		})
	}

	originURL := ""
	if ev.Initiator != nil {
		originURL = ev.Initiator.URL
	}

	s.mu.Lock()
	topFrame := s.topFrame
	resourceType := mapResourceType(ev.Type.String(), ev.FrameID.String(), topFrame)
	s.inflight[id] = &transaction{
		resourceType: resourceType,
		method:       ev.Request.Method,
		url:          ev.Request.URL,
	}
	s.mu.Unlock()

	before := &events.BeforeRequest{
		RequestID:    id,
		URL:          ev.Request.URL,
		Method:       ev.Request.Method,
		TimeStamp:    timeStamp,
		ResourceType: resourceType,
		TabID:        topFrame,
		OriginURL:    originURL,
	}
	if ev.Request.HasPostData {
		before.RequestBody = &events.RequestBody{
			Raw: []events.UploadData{{Bytes: []byte(ev.Request.PostData)}},
		}
	}
	// Body stage first so capture taps are in place before any response
	// bytes flow.
	s.dispatchBeforeRequest(before)

	s.dispatchBeforeSendHeaders(&events.BeforeSendHeaders{
		RequestID:    id,
		URL:          ev.Request.URL,
		Method:       ev.Request.Method,
		TimeStamp:    timeStamp,
		ResourceType: resourceType,
		TabID:        topFrame,
		OriginURL:    originURL,
		DocumentURL:  ev.DocumentURL,
		Headers:      headerEntries(ev.Request.Headers),
	})
}

func (s *Source) onResponseReceived(ev *network.EventResponseReceived) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.inflight[ev.RequestID.String()]
	if !ok {
		return
	}
	t.statusCode = int(ev.Response.Status)
	t.statusText = ev.Response.StatusText
	t.fromCache = ev.Response.FromDiskCache
	t.headers = headerEntries(ev.Response.Headers)
	t.resourceType = mapResourceType(ev.Type.String(), ev.FrameID.String(), s.topFrame)
}

func (s *Source) onLoadingFinished(ev *network.EventLoadingFinished) {
	id := ev.RequestID.String()
	s.mu.Lock()
	t, ok := s.inflight[id]
	if ok {
		delete(s.inflight, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	if t.listener != nil {
		go s.fetchBody(id, t.listener)
	}

	s.dispatchCompleted(&events.Completed{
		RequestID:    id,
		URL:          t.url,
		Method:       t.method,
		TimeStamp:    time.Now(),
		ResourceType: t.resourceType,
		StatusCode:   t.statusCode,
		StatusLine:   fmt.Sprintf("HTTP/1.1 %d %s", t.statusCode, t.statusText),
		FromCache:    t.fromCache,
		Headers:      t.headers,
	})
}

func (s *Source) onLoadingFailed(ev *network.EventLoadingFailed) {
	id := ev.RequestID.String()
	log.Debugf("Loading failed: %v, %v, Reason: %v, Cancel: %v", id, ev.Type, ev.ErrorText, ev.Canceled)
	s.mu.Lock()
	t, ok := s.inflight[id]
	if ok {
		delete(s.inflight, id)
	}
	s.mu.Unlock()
	if ok && t.listener != nil {
		t.listener.Fail(fmt.Errorf("loading failed: %s", ev.ErrorText))
	}
}

func (s *Source) onFrameNavigated(ev *page.EventFrameNavigated) {
	if ev.Frame.ParentID != "" {
		return
	}
	log.Tracef("Top frame navigated: %v %v", ev.Frame.ID, ev.Frame.URL)
	s.mu.Lock()
	s.topFrame = ev.Frame.ID.String()
	s.mu.Unlock()
	if s.tabCache != nil {
		s.tabCache.Set(ev.Frame.ID.String(), ev.Frame.URL)
	}
}

func (s *Source) fetchBody(id string, l *capture.Listener) {
	err := chromedp.Run(s.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		body, err := network.GetResponseBody(network.RequestID(id)).Do(ctx)
		if err != nil {
			return err
		}
		l.Append(body)
		l.Complete()
		return nil
	}))
	if err != nil {
		l.Fail(err)
	}
}

// mapResourceType translates CDP resource types into the host-neutral
// names the records use.
func mapResourceType(cdpType, frameID, topFrame string) string {
	switch cdpType {
	case "Document":
		if topFrame == "" || frameID == topFrame {
			return events.ResourceTypeDocument
		}
		return events.ResourceTypeSubFrame
	case "Script":
		return events.ResourceTypeScript
	case "XHR", "Fetch":
		return events.ResourceTypeXHR
	case "Image":
		return events.ResourceTypeImage
	case "Stylesheet":
		return events.ResourceTypeStyle
	case "WebSocket":
		return events.ResourceTypeWebSocket
	default:
		return events.ResourceTypeOther
	}
}

func headerEntries(h network.Headers) []events.HeaderEntry {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	entries := make([]events.HeaderEntry, len(names))
	for i, name := range names {
		entries[i] = events.HeaderEntry{Name: name, Value: interfaceToString(h[name])}
	}
	return entries
}

func interfaceToString(i interface{}) string {
	if i == nil {
		return ""
	}
	return fmt.Sprintf("%v", i)
}
