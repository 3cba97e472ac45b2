package module

import (
	"os"
	"sync"
	"time"
)

type watchedFile struct {
	modTime time.Time
	size    int64
	exists  bool
	handler func(path string)
}

// poller 以固定间隔比较文件的修改时间，每个绝对路径只保留一个处理函数。
type poller struct {
	interval time.Duration

	mu      sync.Mutex
	files   map[string]*watchedFile
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

func newPoller(interval time.Duration) *poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &poller{interval: interval, files: make(map[string]*watchedFile)}
}

// watch 注册或替换 path 的处理函数；重复注册不会叠加回调。
func (p *poller) watch(path string, handler func(string)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.files[path]; ok {
		existing.handler = handler
		return
	}
	wf := &watchedFile{handler: handler}
	if info, err := os.Stat(path); err == nil {
		wf.modTime, wf.size, wf.exists = info.ModTime(), info.Size(), true
	}
	p.files[path] = wf
	p.startLocked()
}

func (p *poller) unwatch(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.files, path)
}

func (p *poller) watching(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.files[path]
	return ok
}

func (p *poller) startLocked() {
	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.loop(p.stopCh, p.doneCh)
}

func (p *poller) loop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.check()
		}
	}
}

// check 比较修改时间与大小，文件被删除时同样触发回调。
func (p *poller) check() {
	type fired struct {
		path    string
		handler func(string)
	}
	var changes []fired

	p.mu.Lock()
	for path, wf := range p.files {
		info, err := os.Stat(path)
		switch {
		case err != nil && wf.exists:
			wf.exists = false
			changes = append(changes, fired{path, wf.handler})
		case err == nil && (!wf.exists || !info.ModTime().Equal(wf.modTime) || info.Size() != wf.size):
			wf.modTime, wf.size, wf.exists = info.ModTime(), info.Size(), true
			changes = append(changes, fired{path, wf.handler})
		}
	}
	p.mu.Unlock()

	for _, c := range changes {
		if c.handler != nil {
			c.handler(c.path)
		}
	}
}

func (p *poller) close() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stop, done := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stop)
	<-done
}
