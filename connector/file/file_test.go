/*
 * Copyright 2024 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */


package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/endpoint"
	"github.com/rulego/esb/test"
)

func newConnector(t *testing.T, configuration types.Configuration) *Connector {
	c := New()
	require.Nil(t, c.Init("files", types.NewConfig(types.WithLogger(types.NopLogger())), configuration))
	require.Nil(t, c.Start())
	t.Cleanup(c.Dispose)
	return c
}

func startInbound(t *testing.T, c *Connector, address string, listener types.Processor) *endpoint.InboundEndpoint {
	b, err := endpoint.NewBuilder(address, endpoint.WithConnector(c))
	require.Nil(t, err)
	in, err := b.BuildInbound()
	require.Nil(t, err)
	in.SetListener(listener)
	require.Nil(t, in.Start())
	t.Cleanup(func() { _ = in.Stop() })
	return in
}

func write(t *testing.T, dir, name, content string) {
	require.Nil(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestInit(t *testing.T) {
	c := New()
	require.Nil(t, c.Init("files", types.NewConfig(), types.Configuration{
		"pollingFrequency": "250ms",
		"moveToDirectory":  "/tmp/done",
		"outputAppend":     true,
	}))
	assert.Equal(t, "files", c.Name())
	assert.Equal(t, 250*time.Millisecond, c.Config.PollingFrequency)
	assert.Equal(t, "/tmp/done", c.Config.MoveToDirectory)
	assert.True(t, c.Config.OutputAppend)
	assert.Equal(t, DefaultOutputPattern, c.Config.OutputPattern)
	assert.Equal(t, Protocol, c.Protocol())
	assert.IsType(t, &Connector{}, c.New())
}

func TestDir(t *testing.T) {
	assert.Equal(t, filepath.FromSlash("/var/spool/orders"), Dir(types.MustParseEndpointURI("file:///var/spool/orders")))
	assert.Equal(t, filepath.FromSlash("data/orders"), Dir(types.MustParseEndpointURI("file://data/orders?pattern=*.csv")))
}

func TestInboundDeletesRoutedFiles(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "a.csv", "1;2")
	write(t, dir, "skip.txt", "ignored")
	write(t, dir, ".partial.csv", "hidden")

	c := newConnector(t, nil)
	listener := test.Sensor("listener", nil)
	startInbound(t, c, "file://"+filepath.ToSlash(dir)+"?pollingFrequency=20&pattern=*.csv", listener)

	require.True(t, test.WaitFor(time.Second, func() bool { return listener.Count() == 1 }))
	ev := listener.Events()[0]
	assert.Equal(t, "1;2", ev.Message.PayloadString())
	assert.Equal(t, "a.csv", ev.Message.InboundProperties.GetString(PropertyOriginalFilename))
	assert.Equal(t, int64(3), ev.Message.InboundProperties.Get(PropertyFileSize))
	assert.True(t, test.WaitFor(time.Second, func() bool {
		_, err := os.Stat(filepath.Join(dir, "a.csv"))
		return errors.Is(err, os.ErrNotExist)
	}))
	assert.FileExists(t, filepath.Join(dir, "skip.txt"))
	assert.FileExists(t, filepath.Join(dir, ".partial.csv"))

	write(t, dir, "b.csv", "3;4")
	assert.True(t, test.WaitFor(time.Second, func() bool { return listener.Count() == 2 }))
	assert.Equal(t, "3;4", listener.Events()[1].Message.PayloadString())
}

func TestInboundMovesRoutedFiles(t *testing.T) {
	dir := t.TempDir()
	done := filepath.Join(t.TempDir(), "done")
	write(t, dir, "order.xml", "<order/>")

	c := newConnector(t, types.Configuration{"pollingFrequency": "20ms", "watch": true})
	listener := test.Sensor("listener", nil)
	startInbound(t, c, "file://"+filepath.ToSlash(dir)+"?moveToDirectory="+filepath.ToSlash(done)+"&moveToPattern=${originalFilename}.bak", listener)

	require.True(t, test.WaitFor(time.Second, func() bool { return listener.Count() == 1 }))
	assert.True(t, test.WaitFor(time.Second, func() bool {
		_, err := os.Stat(filepath.Join(done, "order.xml.bak"))
		return err == nil
	}))
	assert.NoFileExists(t, filepath.Join(dir, "order.xml"))
}

func TestInboundKeepsFailedFiles(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "poison.csv", "x")

	c := newConnector(t, nil)
	failer := test.Failer("failer", nil, errors.New("boom"))
	startInbound(t, c, "file://"+filepath.ToSlash(dir)+"?pollingFrequency=10ms", failer)

	require.True(t, test.WaitFor(time.Second, func() bool { return failer.Count() == 1 }))
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, failer.Count())
	assert.FileExists(t, filepath.Join(dir, "poison.csv"))

	// a rewrite makes the file eligible again
	future := time.Now().Add(time.Minute)
	require.Nil(t, os.Chtimes(filepath.Join(dir, "poison.csv"), future, future))
	assert.True(t, test.WaitFor(time.Second, func() bool { return failer.Count() == 2 }))
}

func TestInboundMissingDirectory(t *testing.T) {
	c := newConnector(t, nil)
	b, err := endpoint.NewBuilder("file://"+filepath.ToSlash(filepath.Join(t.TempDir(), "missing")), endpoint.WithConnector(c))
	require.Nil(t, err)
	in, err := b.BuildInbound()
	require.Nil(t, err)
	in.SetListener(test.Sensor("listener", nil))
	err = in.Start()
	require.NotNil(t, err)
	assert.True(t, types.ResolveErrorType(err).IsA(types.ErrorConnectivity))
}

func TestOutbound(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	c := newConnector(t, nil)

	b, err := endpoint.NewBuilder("file://"+filepath.ToSlash(dir)+"?outputPattern=${customer}-${id}.txt", endpoint.WithConnector(c))
	require.Nil(t, err)
	out, err := b.BuildOutbound()
	require.Nil(t, err)

	ev := test.NewTextEvent("hello")
	ev.Message.OutboundProperties.Put("customer", "acme")
	_, err = out.Process(context.Background(), ev)
	require.Nil(t, err)
	name := "acme-" + ev.Id + ".txt"
	b1, err := os.ReadFile(filepath.Join(dir, name))
	require.Nil(t, err)
	assert.Equal(t, "hello", string(b1))

	t.Run("Append", func(t *testing.T) {
		b, err := endpoint.NewBuilder("file://"+filepath.ToSlash(dir)+"?outputAppend=true", endpoint.WithConnector(c))
		require.Nil(t, err)
		out, err := b.BuildOutbound()
		require.Nil(t, err)
		for _, line := range []string{"a\n", "b\n"} {
			ev := test.NewTextEvent(line)
			ev.Message.OutboundProperties.Put(PropertyFilename, "journal.log")
			_, err := out.Process(context.Background(), ev)
			require.Nil(t, err)
		}
		data, err := os.ReadFile(filepath.Join(dir, "journal.log"))
		require.Nil(t, err)
		assert.Equal(t, "a\nb\n", string(data))
	})
}

func TestFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := newConnector(t, types.Configuration{"pollingFrequency": "20ms"})
	listener := test.Sensor("listener", nil)
	startInbound(t, c, "file://"+filepath.ToSlash(dir), listener)

	b, err := endpoint.NewBuilder("file://"+filepath.ToSlash(dir), endpoint.WithConnector(c))
	require.Nil(t, err)
	out, err := b.BuildOutbound()
	require.Nil(t, err)
	_, err = out.Process(context.Background(), test.NewTextEvent("ping"))
	require.Nil(t, err)

	require.True(t, test.WaitFor(time.Second, func() bool { return listener.Count() == 1 }))
	assert.Equal(t, "ping", listener.Events()[0].Message.PayloadString())
}

func TestRequestResponseRejected(t *testing.T) {
	c := newConnector(t, nil)
	b, err := endpoint.NewBuilder("file:///tmp?exchangePattern=request-response", endpoint.WithConnector(c))
	require.Nil(t, err)
	_, err = b.BuildOutbound()
	assert.NotNil(t, err)
}
