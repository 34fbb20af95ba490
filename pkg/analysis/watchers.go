package analysis

import "github.com/cyclopcam/trafficcount/pkg/gen"

// SYNC-WATCHER-CHANNEL-SIZE
const WatcherChannelSize = 100

// Register to receive progress updates.
// The final update has a State of completed, stopped, or failed.
func (p *Processor) AddWatcher() chan *Progress {
	p.watchersLock.Lock()
	defer p.watchersLock.Unlock()
	ch := make(chan *Progress, WatcherChannelSize)
	p.watchers = append(p.watchers, ch)
	return ch
}

// Unregister from progress updates
func (p *Processor) RemoveWatcher(ch chan *Progress) {
	p.watchersLock.Lock()
	defer p.watchersLock.Unlock()
	for i, w := range p.watchers {
		if w == ch {
			p.watchers = gen.DeleteFromSliceUnordered(p.watchers, i)
			return
		}
	}
	p.log.Warnf("Processor.RemoveWatcher failed to find channel")
}

func (p *Processor) sendToWatchers(progress *Progress) {
	p.watchersLock.RLock()
	defer p.watchersLock.RUnlock()
	for _, ch := range p.watchers {
		// SYNC-WATCHER-CHANNEL-SIZE
		if len(ch) >= cap(ch)*9/10 {
			// A watcher that has stalled must not stall the analysis, so we drop updates
			p.log.Warnf("Analysis watcher is falling behind. Dropping progress update.")
		} else {
			ch <- progress
		}
	}
}
