package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kaizencorps/stache/pkg/automation"
	"github.com/kaizencorps/stache/pkg/custody"
	"github.com/kaizencorps/stache/pkg/index"
	"github.com/kaizencorps/stache/pkg/treasury"
	"github.com/kaizencorps/stache/pkg/vault"
)

// document is one stored row. Revision is authoritative over any revision
// field inside Body.
type document struct {
	Key      string
	Treasury string
	Version  string
	Revision uint64
	Body     []byte
}

// docTx is what a backend implements; recordTx layers the typed records on
// top of it.
type docTx interface {
	get(ctx context.Context, table, key string) (document, error)
	list(ctx context.Context, table, treasuryKey string) ([]document, error)
	// put writes doc when the stored revision equals expected, with expected
	// 0 meaning the key must not exist yet. doc.Revision is expected+1.
	put(ctx context.Context, table string, doc document, expected uint64) error
	del(ctx context.Context, table, key string) error
}

type recordTx struct {
	docs docTx
}

var _ Tx = recordTx{}

func (r recordTx) load(ctx context.Context, table, key string, dst any) (uint64, error) {
	doc, err := r.docs.get(ctx, table, key)
	if err != nil {
		return 0, err
	}
	return decode(doc, dst)
}

func decode(doc document, dst any) (uint64, error) {
	if err := checkVersion(doc.Key, doc.Version); err != nil {
		return 0, err
	}
	if err := json.Unmarshal(doc.Body, dst); err != nil {
		return 0, fmt.Errorf("decode %s: %w", doc.Key, err)
	}
	return doc.Revision, nil
}

func (r recordTx) save(ctx context.Context, table, key, treasuryKey, version string, rev *uint64, rec any) error {
	expected := *rev
	*rev = expected + 1
	body, err := json.Marshal(rec)
	if err != nil {
		*rev = expected
		return fmt.Errorf("encode %s: %w", key, err)
	}
	doc := document{Key: key, Treasury: treasuryKey, Version: version, Revision: expected + 1, Body: body}
	if err := r.docs.put(ctx, table, doc, expected); err != nil {
		*rev = expected
		return err
	}
	return nil
}

func (r recordTx) Treasury(ctx context.Context, key custody.Key) (*treasury.Treasury, error) {
	var t treasury.Treasury
	rev, err := r.load(ctx, tableTreasuries, string(key), &t)
	if err != nil {
		return nil, fmt.Errorf("treasury %s: %w", key, err)
	}
	t.Revision = rev
	return &t, nil
}

func (r recordTx) PutTreasury(ctx context.Context, t *treasury.Treasury) error {
	return r.save(ctx, tableTreasuries, string(t.Key), string(t.Key), treasuryVersion(t), &t.Revision, t)
}

func (r recordTx) DeleteTreasury(ctx context.Context, key custody.Key) error {
	return r.docs.del(ctx, tableTreasuries, string(key))
}

func (r recordTx) Vault(ctx context.Context, treasuryKey custody.Key, idx index.Index) (*vault.Vault, error) {
	key := treasury.VaultKey(treasuryKey, idx)
	var v vault.Vault
	rev, err := r.load(ctx, tableVaults, string(key), &v)
	if err != nil {
		return nil, fmt.Errorf("vault %s: %w", key, err)
	}
	v.Revision = rev
	return &v, nil
}

func (r recordTx) Vaults(ctx context.Context, treasuryKey custody.Key) ([]*vault.Vault, error) {
	docs, err := r.docs.list(ctx, tableVaults, string(treasuryKey))
	if err != nil {
		return nil, err
	}
	out := make([]*vault.Vault, 0, len(docs))
	for _, doc := range docs {
		var v vault.Vault
		rev, err := decode(doc, &v)
		if err != nil {
			return nil, err
		}
		v.Revision = rev
		out = append(out, &v)
	}
	return out, nil
}

func (r recordTx) PutVault(ctx context.Context, v *vault.Vault) error {
	key := treasury.VaultKey(v.Treasury, v.Index)
	return r.save(ctx, tableVaults, string(key), string(v.Treasury), RecordVersion, &v.Revision, v)
}

func (r recordTx) DeleteVault(ctx context.Context, treasuryKey custody.Key, idx index.Index) error {
	return r.docs.del(ctx, tableVaults, string(treasury.VaultKey(treasuryKey, idx)))
}

func (r recordTx) Automation(ctx context.Context, treasuryKey custody.Key, idx index.Index) (*automation.Automation, error) {
	key := treasury.AutomationKey(treasuryKey, idx)
	var a automation.Automation
	rev, err := r.load(ctx, tableAutomations, string(key), &a)
	if err != nil {
		return nil, fmt.Errorf("automation %s: %w", key, err)
	}
	a.Revision = rev
	return &a, nil
}

func (r recordTx) Automations(ctx context.Context, treasuryKey custody.Key) ([]*automation.Automation, error) {
	docs, err := r.docs.list(ctx, tableAutomations, string(treasuryKey))
	if err != nil {
		return nil, err
	}
	out := make([]*automation.Automation, 0, len(docs))
	for _, doc := range docs {
		var a automation.Automation
		rev, err := decode(doc, &a)
		if err != nil {
			return nil, err
		}
		a.Revision = rev
		out = append(out, &a)
	}
	return out, nil
}

func (r recordTx) PutAutomation(ctx context.Context, a *automation.Automation) error {
	key := treasury.AutomationKey(a.Treasury, a.Index)
	return r.save(ctx, tableAutomations, string(key), string(a.Treasury), RecordVersion, &a.Revision, a)
}

func (r recordTx) DeleteAutomation(ctx context.Context, treasuryKey custody.Key, idx index.Index) error {
	return r.docs.del(ctx, tableAutomations, string(treasury.AutomationKey(treasuryKey, idx)))
}
