package tcr

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Publisher contains everything you need to fan letters out over the writer pool.
type Publisher struct {
	sleepOnIdleInterval  time.Duration
	sleepOnErrorInterval time.Duration
	publishTimeout       time.Duration
	maxRetryCount        uint32

	pool *ConnectionPool

	autoStarted     int32
	letters         chan *Letter
	publishReceipts chan *PublishReceipt
	wg              sync.WaitGroup
	shutdownSignal  chan struct{}
	once            sync.Once
}

// PublishReceipt is a way to monitor publishing success and to initiate a retry when using async publishing.
type PublishReceipt struct {
	LetterID     uuid.UUID
	FailedLetter *Letter
	Success      bool
	Error        error
}

// ToString allows you to quickly log the PublishReceipt struct as a string.
func (not *PublishReceipt) ToString() string {
	if not.Success {
		return fmt.Sprintf("[LetterID: %s] - Publish successful.\r\n", not.LetterID.String())
	}

	return fmt.Sprintf("[LetterID: %s] - Publish failed.\r\nError: %s\r\n", not.LetterID.String(), not.Error.Error())
}

// NewPublisherFromConfig creates and configures a new Publisher over the writer pool.
func NewPublisherFromConfig(config *RedisSeasoning, cp *ConnectionPool) *Publisher {

	publisherConfig := config.PublisherConfig
	if publisherConfig == nil {
		publisherConfig = &PublisherConfig{}
	}

	if publisherConfig.MaxRetryCount == 0 {
		publisherConfig.MaxRetryCount = 5
	}

	return &Publisher{
		pool: cp,

		letters:         make(chan *Letter, 1000),
		publishReceipts: make(chan *PublishReceipt, 1000),

		autoStarted:    0, // false
		shutdownSignal: make(chan struct{}),

		sleepOnIdleInterval:  time.Duration(publisherConfig.SleepOnIdleInterval) * time.Millisecond,
		sleepOnErrorInterval: time.Duration(publisherConfig.SleepOnErrorInterval) * time.Millisecond,
		publishTimeout:       time.Duration(publisherConfig.PublishTimeout) * time.Millisecond,
		maxRetryCount:        publisherConfig.MaxRetryCount,
	}
}

// NewPublisher creates and configures a new Publisher.
func NewPublisher(cp *ConnectionPool, sleepOnErrorInterval time.Duration, publishTimeout time.Duration, maxRetryCount uint32) *Publisher {

	if maxRetryCount == 0 {
		maxRetryCount = 5
	}

	return &Publisher{
		pool: cp,

		letters:         make(chan *Letter, 1000),
		publishReceipts: make(chan *PublishReceipt, 1000),

		autoStarted:    0, //false
		shutdownSignal: make(chan struct{}),

		sleepOnErrorInterval: sleepOnErrorInterval,
		publishTimeout:       publishTimeout,
		maxRetryCount:        maxRetryCount,
	}
}

// Publish sends a single letter to the channel on its envelope.
// Subscribe to PublishReceipts to see success and errors.
func (pub *Publisher) Publish(letter *Letter, skipReceipt bool) {

	err := pub.publishOnce(letter)

	if !skipReceipt {
		pub.publishReceipt(letter, err)
	}
}

// PublishWithError sends a single letter to the channel on its envelope and returns the outcome directly.
func (pub *Publisher) PublishWithError(letter *Letter) error {

	return pub.publishOnce(letter)
}

// PublishWithRetry sends a single letter retrying on failures, up to the letter's
// RetryCount (or the publisher's MaxRetryCount when the letter carries none).
// A timeout failure drops the letter back in the PublishReceipts.
func (pub *Publisher) PublishWithRetry(letter *Letter) {

	retries := letter.RetryCount
	if retries == 0 {
		retries = pub.maxRetryCount
	}

	var err error
	for attempt := uint32(0); attempt <= retries; attempt++ {

		err = pub.publishOnce(letter)
		if err == nil {
			pub.publishReceipt(letter, nil)
			return
		}

		if pub.sleepOnErrorInterval > 0 {
			time.Sleep(pub.sleepOnErrorInterval)
		}
	}

	pub.publishReceipt(letter, fmt.Errorf("publish of LetterID: %s failed after %d attempts: %w", letter.LetterID.String(), retries+1, err))
}

func (pub *Publisher) publishOnce(letter *Letter) error {

	host, err := pub.pool.Next()
	if err != nil {
		return fmt.Errorf("publish of LetterID: %s failed: %w", letter.LetterID.String(), err)
	}

	ctx := context.Background()
	if pub.publishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pub.publishTimeout)
		defer cancel()
	}

	return host.Publish(ctx, letter.Envelope.Channel, letter.Body)
}

// PublishReceipts yields all the success and failures during all publish events. Highly recommend subscribing to this.
func (pub *Publisher) PublishReceipts() <-chan *PublishReceipt {
	return pub.publishReceipts
}

// StartAutoPublishing starts the Publisher's auto-publishing capabilities.
func (pub *Publisher) StartAutoPublishing() {

	if !pub.isAutoStarted() {
		pub.setAutoStarted(true)
		pub.wg.Add(1)
		go pub.startAutoPublishingLoop()
	}
}

// startAutoPublishingLoop delivers letters queued up - is locking.
func (pub *Publisher) startAutoPublishingLoop() {
	defer pub.wg.Done()

	pub.deliverLetters()
	pub.setAutoStarted(false)
}

func (pub *Publisher) deliverLetters() {

	// Allow parallel publishing across the writer pool.
	parallelPublishSemaphore := make(chan struct{}, pub.pool.ConnectionCount()/2+1)

	for {
		select {
		case <-pub.catchShutdown():
			return
		case letter, ok := <-pub.letters:
			if !ok {
				return
			}
			parallelPublishSemaphore <- struct{}{} // throttling
			pub.wg.Add(1)
			go func(letter *Letter) {
				defer pub.wg.Done()

				pub.PublishWithRetry(letter)
				<-parallelPublishSemaphore
			}(letter)
		}
	}
}

// QueueLetters allows you to bulk queue letters that will be consumed by AutoPublish.
// By default, AutoPublish uses PublishWithRetry as the mechanism for publishing.
func (pub *Publisher) QueueLetters(letters []*Letter) bool {

	for _, letter := range letters {

		if ok := pub.safeSend(letter); !ok {
			return false
		}
	}

	return true
}

// QueueLetter queues up a letter that will be consumed by AutoPublish.
// By default, AutoPublish uses PublishWithRetry as the mechanism for publishing.
func (pub *Publisher) QueueLetter(letter *Letter) bool {

	return pub.safeSend(letter)
}

// safeSend should handle a scenario on publishing to a closed channel.
func (pub *Publisher) safeSend(letter *Letter) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	select {
	case <-pub.catchShutdown():
		return false
	case pub.letters <- letter:
		return true // success
	}
}

// publishReceipt sends the status to the receipt channel.
func (pub *Publisher) publishReceipt(l *Letter, e error) {
	pub.wg.Add(1)
	go func(letter *Letter, err error) {
		defer pub.wg.Done()

		publishReceipt := &PublishReceipt{
			LetterID: letter.LetterID,
			Error:    err,
		}

		if err == nil {
			publishReceipt.Success = true
		} else {
			publishReceipt.FailedLetter = letter
		}

		select {
		case <-pub.catchShutdown():
			logger().Warn("lost publishing receipt on shutdown",
				"letterID", letter.LetterID.String())
			return
		case pub.publishReceipts <- publishReceipt:
			return
		}

	}(l, e)
}

func (pub *Publisher) isAutoStarted() bool {
	return atomic.LoadInt32(&pub.autoStarted) == 1
}

func (pub *Publisher) setAutoStarted(started bool) {
	if started {
		atomic.StoreInt32(&pub.autoStarted, 1)
	} else {
		atomic.StoreInt32(&pub.autoStarted, 0)
	}
}

func (pub *Publisher) catchShutdown() <-chan struct{} {
	return pub.shutdownSignal
}

// Shutdown cleanly shuts down the publisher and resets its internal state.
func (pub *Publisher) Shutdown(waitForLetters bool) {
	pub.once.Do(func() {
		close(pub.shutdownSignal)
	})

	if waitForLetters {
		pub.wg.Wait()
	}
}
