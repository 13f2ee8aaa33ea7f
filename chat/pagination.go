////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package chat

import (
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// paginator handles backward paging and the warm conversation cache. On
// attach it renders the cached snapshot immediately while a single background
// fetch of the latest page runs; LoadMore then walks backward
// offset-by-loaded-count. After every confirmed batch the most recent
// messages are persisted back to the cache.
type paginator struct {
	conversationID string
	db             Database
	cache          Cache
	store          *MessageStore
	pageSize       int
	cacheSize      int
	generation     func() uint64

	// attachGen is the generation of the attachment that owns this
	// paginator. Cache persists are skipped once it is stale.
	attachGen uint64

	hasMore        bool
	fetching       bool
	initialStarted bool

	mux sync.Mutex
}

func newPaginator(conversationID string, db Database, cache Cache,
	store *MessageStore, pageSize, cacheSize int,
	generation func() uint64) *paginator {
	return &paginator{
		conversationID: conversationID,
		db:             db,
		cache:          cache,
		store:          store,
		pageSize:       pageSize,
		cacheSize:      cacheSize,
		generation:     generation,
		attachGen:      generation(),
		hasMore:        true,
	}
}

// Attach seeds the store from the warm cache, if fresh, and starts the
// background fetch of the latest page. Repeat calls do not start a second
// fetch.
func (pg *paginator) Attach() {
	if pg.cache != nil {
		if cached, hit := pg.cache.Load(pg.conversationID); hit {
			jww.DEBUG.Printf("Rendering %d cached messages for "+
				"conversation %s.", len(cached), pg.conversationID)
			pg.store.InsertBatch(cached)
		}
	}

	pg.mux.Lock()
	started := pg.initialStarted
	pg.initialStarted = true
	pg.mux.Unlock()
	if started {
		return
	}

	gen := pg.generation()
	go func() {
		if err := pg.fetchPage(0, gen); err != nil {
			jww.WARN.Printf("Initial page fetch for conversation %s "+
				"failed: %+v", pg.conversationID, err)
		}
	}()
}

// LoadMore fetches the next older page and merges it in front of the loaded
// list. It is a no-op when no more history exists or a fetch is already in
// flight.
func (pg *paginator) LoadMore() error {
	pg.mux.Lock()
	if !pg.hasMore || pg.fetching {
		pg.mux.Unlock()
		return nil
	}
	pg.mux.Unlock()

	offset := len(pg.store.Confirmed())
	return pg.fetchPage(offset, pg.generation())
}

// HasMore reports whether older history may remain on the server.
func (pg *paginator) HasMore() bool {
	pg.mux.Lock()
	defer pg.mux.Unlock()
	return pg.hasMore
}

// fetchPage retrieves one page at the given offset and merges it. Only one
// fetch runs at a time.
func (pg *paginator) fetchPage(offset int, gen uint64) error {
	pg.mux.Lock()
	if pg.fetching {
		pg.mux.Unlock()
		return nil
	}
	pg.fetching = true
	pg.mux.Unlock()

	defer func() {
		pg.mux.Lock()
		pg.fetching = false
		pg.mux.Unlock()
	}()

	msgs, err := pg.db.GetMessages(pg.conversationID, pg.pageSize, offset)
	if err != nil {
		return errors.WithMessagef(err,
			"failed to fetch page at offset %d", offset)
	}

	if pg.generation() != gen {
		jww.DEBUG.Printf("Discarding page at offset %d: conversation %s "+
			"detached during fetch.", offset, pg.conversationID)
		return nil
	}

	pg.store.InsertBatch(msgs)

	pg.mux.Lock()
	pg.hasMore = len(msgs) == pg.pageSize
	pg.mux.Unlock()

	pg.PersistCache()
	return nil
}

// PersistCache overwrites the warm cache with the most recent confirmed
// messages.
func (pg *paginator) PersistCache() {
	if pg.cache == nil {
		return
	}
	if pg.generation() != pg.attachGen {
		jww.DEBUG.Printf("Skipping warm cache persist for conversation %s: "+
			"detached.", pg.conversationID)
		return
	}

	confirmed := pg.store.Confirmed()
	if len(confirmed) > pg.cacheSize {
		confirmed = confirmed[len(confirmed)-pg.cacheSize:]
	}
	if err := pg.cache.Store(pg.conversationID, confirmed); err != nil {
		jww.WARN.Printf("Failed to persist warm cache for conversation "+
			"%s: %+v", pg.conversationID, err)
	}
}
