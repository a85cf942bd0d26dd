package oauthbasic

import (
	"context"
	"sort"
	"sync"
)

type dummyPermissionDB struct {
	roles     map[string][]string
	rolesLock sync.RWMutex
	failWith  error // If not nil, every lookup fails with this error
}

func NewPermissionDB_Memory() *dummyPermissionDB {
	return &dummyPermissionDB{roles: map[string][]string{}}
}

func (x *dummyPermissionDB) RolesForPermission(ctx context.Context, permission string) ([]string, error) {
	x.rolesLock.RLock()
	defer x.rolesLock.RUnlock()
	if x.failWith != nil {
		return nil, x.failWith
	}
	return append([]string{}, x.roles[permission]...), nil
}

func (x *dummyPermissionDB) SetPermissionRole(ctx context.Context, permission, role string) error {
	x.rolesLock.Lock()
	defer x.rolesLock.Unlock()
	if containsString(x.roles[permission], role) {
		return nil
	}
	x.roles[permission] = append(x.roles[permission], role)
	sort.Strings(x.roles[permission])
	return nil
}

func (x *dummyPermissionDB) DeletePermission(ctx context.Context, permission string) error {
	x.rolesLock.Lock()
	defer x.rolesLock.Unlock()
	delete(x.roles, permission)
	return nil
}

func (x *dummyPermissionDB) GetPermissions(ctx context.Context) (map[string][]string, error) {
	x.rolesLock.RLock()
	defer x.rolesLock.RUnlock()
	all := make(map[string][]string, len(x.roles))
	for k, v := range x.roles {
		all[k] = append([]string{}, v...)
	}
	return all, nil
}

func (x *dummyPermissionDB) setFailure(err error) {
	x.rolesLock.Lock()
	defer x.rolesLock.Unlock()
	x.failWith = err
}

func (x *dummyPermissionDB) Close() {
}
