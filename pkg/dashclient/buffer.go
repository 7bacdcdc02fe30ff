package dashclient

// push merges one pushed event into the capped recent-events buffer:
// newest first, one entry per fingerprint.
func (c *Client) push(ev LogEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := make([]LogEvent, 0, len(c.buffer)+1)
	kept = append(kept, ev)
	for _, old := range c.buffer {
		if old.RequestFingerprint == ev.RequestFingerprint {
			continue
		}
		kept = append(kept, old)
	}
	if len(kept) > c.opts.BufferSize {
		kept = kept[:c.opts.BufferSize]
	}
	c.buffer = kept
}

// Recent returns a snapshot of the buffered pushed events, newest first.
func (c *Client) Recent() []LogEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]LogEvent(nil), c.buffer...)
}

// MergePolled combines a freshly polled page-1 listing with buffered
// pushed events. The polled page is authoritative: pushed events whose
// fingerprint already appears in it are dropped, so no call shows twice.
func MergePolled(polled, pushed []LogEvent) []LogEvent {
	seen := make(map[string]struct{}, len(polled))
	out := make([]LogEvent, 0, len(polled)+len(pushed))
	for _, ev := range polled {
		if _, dup := seen[ev.RequestFingerprint]; dup {
			continue
		}
		seen[ev.RequestFingerprint] = struct{}{}
		out = append(out, ev)
	}
	for _, ev := range pushed {
		if _, dup := seen[ev.RequestFingerprint]; dup {
			continue
		}
		seen[ev.RequestFingerprint] = struct{}{}
		out = append(out, ev)
	}
	return out
}

// MergePolled on the client uses its own buffer as the pushed set.
func (c *Client) MergePolled(polled []LogEvent) []LogEvent {
	return MergePolled(polled, c.Recent())
}
