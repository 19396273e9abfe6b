package logging

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/terraskye/eventlog"
)

type loggingClient struct {
	logger *logrus.Entry
	next   eventlog.Client
}

// WithClientLogging wraps a Client with logging. Writes are logged at debug
// level, rejected writes at warn level with the error kind, and storage
// failures at error level.
func WithClientLogging(logger *logrus.Entry, next eventlog.Client) eventlog.Client {
	return &loggingClient{logger: logger, next: next}
}

func (c *loggingClient) done(op, stream string, err error, fields logrus.Fields) {
	l := c.logger.WithFields(fields).WithFields(logrus.Fields{"op": op, "stream": stream})
	if err == nil {
		l.Debugf("%s: %s", op, stream)
		return
	}
	kind := eventlog.KindOf(err)
	l = l.WithField("kind", kind.String()).WithError(err)
	switch kind {
	case eventlog.KindConcurrencyViolation, eventlog.KindStreamDeleted, eventlog.KindInvalidRequest:
		l.Warnf("%s rejected: %s", op, stream)
	default:
		l.Errorf("%s failed: %s", op, stream)
	}
}

func (c *loggingClient) AppendToStream(ctx context.Context, stream string, expected eventlog.StreamState, events ...eventlog.EventData) (eventlog.WriteResult, error) {
	res, err := c.next.AppendToStream(ctx, stream, expected, events...)
	c.done("append", stream, err, logrus.Fields{
		"expected": eventlog.RawExpectedVersion(expected),
		"events":   len(events),
		"next":     res.NextExpectedVersion,
	})
	return res, err
}

func (c *loggingClient) ReadStreamForward(ctx context.Context, stream string, start int64, count int) (eventlog.StreamSlice, error) {
	slice, err := c.next.ReadStreamForward(ctx, stream, start, count)
	c.done("read forward", stream, err, logrus.Fields{"start": start, "status": slice.Status.String(), "events": len(slice.Events)})
	return slice, err
}

func (c *loggingClient) ReadStreamBackward(ctx context.Context, stream string, start int64, count int) (eventlog.StreamSlice, error) {
	slice, err := c.next.ReadStreamBackward(ctx, stream, start, count)
	c.done("read backward", stream, err, logrus.Fields{"start": start, "status": slice.Status.String(), "events": len(slice.Events)})
	return slice, err
}

func (c *loggingClient) SetStreamMetadata(ctx context.Context, stream string, expected eventlog.StreamState, metadata eventlog.StreamMetadata) (eventlog.WriteResult, error) {
	res, err := c.next.SetStreamMetadata(ctx, stream, expected, metadata)
	c.done("set metadata", stream, err, logrus.Fields{"expected": eventlog.RawExpectedVersion(expected)})
	return res, err
}

func (c *loggingClient) GetStreamMetadata(ctx context.Context, stream string) (eventlog.StreamMetadataResult, error) {
	res, err := c.next.GetStreamMetadata(ctx, stream)
	c.done("get metadata", stream, err, logrus.Fields{"metastream_version": res.MetastreamVersion})
	return res, err
}

func (c *loggingClient) DeleteStream(ctx context.Context, stream string, expected eventlog.StreamState) (eventlog.WriteResult, error) {
	c.logger.WithField("stream", stream).Infof("hard delete: %s", stream)
	res, err := c.next.DeleteStream(ctx, stream, expected)
	c.done("delete", stream, err, logrus.Fields{"expected": eventlog.RawExpectedVersion(expected)})
	return res, err
}

func (c *loggingClient) SoftDeleteStream(ctx context.Context, stream string, expected eventlog.StreamState) (eventlog.WriteResult, error) {
	c.logger.WithField("stream", stream).Infof("soft delete: %s", stream)
	res, err := c.next.SoftDeleteStream(ctx, stream, expected)
	c.done("soft delete", stream, err, logrus.Fields{"expected": eventlog.RawExpectedVersion(expected)})
	return res, err
}

func (c *loggingClient) Close() error {
	return c.next.Close()
}
